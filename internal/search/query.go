package search

import "strings"

const (
	defaultLimit = 50
	maxLimit     = 200
)

// indexMapping keeps ids and branches as keywords so prefix and term
// queries match exactly.
const indexMapping = `{
  "mappings": {
    "properties": {
      "id":             {"type": "keyword"},
      "branch_id":      {"type": "keyword"},
      "customer_name":  {"type": "text", "fields": {"keyword": {"type": "keyword", "ignore_above": 256}}},
      "customer_phone": {"type": "keyword"},
      "order_type":     {"type": "keyword"},
      "payment_method": {"type": "keyword"},
      "order_status":   {"type": "keyword"},
      "payment_status": {"type": "keyword"},
      "total_amount":   {"type": "double"},
      "created_at":     {"type": "date"},
      "items":          {"type": "object", "enabled": false},
      "delivery_location": {"type": "text"}
    }
  }
}`

// buildOrderSearchQuery filters by branch and, when text is set, matches the
// customer name or an order id prefix. Newest first.
func buildOrderSearchQuery(branchID, text string, limit int) map[string]interface{} {
	filterClauses := []interface{}{
		map[string]interface{}{
			"term": map[string]interface{}{"branch_id": branchID},
		},
	}

	var mustClauses []interface{}
	text = strings.TrimSpace(text)
	if text == "" {
		mustClauses = append(mustClauses, map[string]interface{}{"match_all": map[string]interface{}{}})
	} else {
		mustClauses = append(mustClauses, map[string]interface{}{
			"bool": map[string]interface{}{
				"should": []interface{}{
					map[string]interface{}{
						"match": map[string]interface{}{
							"customer_name": map[string]interface{}{"query": text, "fuzziness": "AUTO"},
						},
					},
					map[string]interface{}{
						"prefix": map[string]interface{}{
							"id": map[string]interface{}{"value": strings.ToUpper(text)},
						},
					},
				},
				"minimum_should_match": 1,
			},
		})
	}

	return map[string]interface{}{
		"size": clampLimit(limit),
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"must":   mustClauses,
				"filter": filterClauses,
			},
		},
		"sort": []map[string]interface{}{
			{"created_at": map[string]interface{}{"order": "desc"}},
		},
	}
}

func clampLimit(limit int) int {
	switch {
	case limit < 1:
		return defaultLimit
	case limit > maxLimit:
		return maxLimit
	}
	return limit
}
