package api

const createAccountSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["name", "account_type", "currency"],
  "properties": {
    "name": {"type": "string", "minLength": 1, "maxLength": 255},
    "account_type": {"type": "string", "enum": ["ASSET", "LIABILITY", "EQUITY", "REVENUE", "EXPENSE"]},
    "currency": {"type": "string", "pattern": "^[A-Za-z]{3,5}$"},
    "description": {"type": "string", "maxLength": 1024},
    "user_id": {"type": "integer"},
    "metadata": {"type": "object"}
  }
}`

const depositSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["account_id", "amount"],
  "properties": {
    "account_id": {"type": "string", "minLength": 1},
    "amount": {"type": "number", "exclusiveMinimum": 0},
    "currency": {"type": "string", "pattern": "^[A-Za-z]{3,5}$"},
    "description": {"type": "string"},
    "user_id": {"type": "integer"},
    "reference_id": {"type": "string"},
    "metadata": {"type": "object"}
  }
}`

const withdrawalSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["account_id", "amount"],
  "properties": {
    "account_id": {"type": "string", "minLength": 1},
    "amount": {"type": "number", "exclusiveMinimum": 0},
    "description": {"type": "string"},
    "user_id": {"type": "integer"},
    "reference_id": {"type": "string"},
    "metadata": {"type": "object"}
  }
}`

const transferSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["source_account_id", "destination_account_id", "amount"],
  "properties": {
    "source_account_id": {"type": "string", "minLength": 1},
    "destination_account_id": {"type": "string", "minLength": 1},
    "amount": {"type": "number", "exclusiveMinimum": 0},
    "description": {"type": "string"},
    "user_id": {"type": "integer"},
    "reference_id": {"type": "string"},
    "metadata": {"type": "object"}
  }
}`
