package validation

// CheckoutRequestSchema guards POST /api/checkout and the create-order job input.
const CheckoutRequestSchema = `{
  "type": "object",
  "required": ["customer_name", "customer_phone", "order_type", "payment_method", "items"],
  "properties": {
    "branch_id": {"type": "string"},
    "customer_name": {"type": "string", "minLength": 1, "maxLength": 120},
    "customer_phone": {"type": "string", "minLength": 9, "maxLength": 20},
    "order_type": {"type": "string", "enum": ["pickup", "delivery"]},
    "payment_method": {"type": "string", "enum": ["mpesa", "terminal"]},
    "delivery_location": {"type": ["string", "null"]},
    "items": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["product_id", "quantity"],
        "properties": {
          "product_id": {"type": "string", "minLength": 1},
          "name": {"type": "string"},
          "quantity": {"type": "integer", "minimum": 1},
          "selected_size": {"type": "string", "enum": ["Regular", "Large"]},
          "selected_modifiers": {
            "type": ["array", "null"],
            "items": {
              "type": "object",
              "required": ["name", "type"],
              "properties": {
                "id": {"type": "string"},
                "name": {"type": "string", "minLength": 1},
                "type": {"type": "string", "enum": ["milk", "syrup", "topping", "shot"]},
                "price": {"type": "number", "minimum": 0}
              }
            }
          },
          "sticker_text": {"type": ["string", "null"]},
          "is_bogo": {"type": "boolean"},
          "total_price": {"type": "number"}
        }
      }
    }
  }
}`

// MpesaCallbackSchema guards the STK push result webhook.
const MpesaCallbackSchema = `{
  "type": "object",
  "required": ["Body"],
  "properties": {
    "Body": {
      "type": "object",
      "required": ["stkCallback"],
      "properties": {
        "stkCallback": {
          "type": "object",
          "required": ["CheckoutRequestID", "ResultCode"],
          "properties": {
            "MerchantRequestID": {"type": "string"},
            "CheckoutRequestID": {"type": "string", "minLength": 1},
            "ResultCode": {"type": "integer"},
            "ResultDesc": {"type": "string"},
            "CallbackMetadata": {"type": "object"}
          }
        }
      }
    }
  }
}`

// AdvanceRequestSchema guards POST /api/orders/:id/advance.
const AdvanceRequestSchema = `{
  "type": "object",
  "properties": {
    "target": {"type": "string", "enum": ["preparing", "ready", "completed"]}
  }
}`

var (
	CheckoutRequest = MustCompile("checkout-request", CheckoutRequestSchema)
	MpesaCallback   = MustCompile("mpesa-callback", MpesaCallbackSchema)
	AdvanceRequest  = MustCompile("advance-request", AdvanceRequestSchema)
)
