package ledger

import (
	"encoding/json"
	"fmt"
)

// Known metadata keys.
const (
	MetaIsCredit      = "is_credit"
	MetaReason        = "reason"
	MetaExtensionDays = "extension_days"
	MetaDiscountCode  = "discount_code"
	MetaGiftFrom      = "gift_from"
)

// Metadata is a JSON object attached to accounts and transactions. Known keys
// have typed accessors; unknown keys are kept as decoded.
type Metadata map[string]any

func (m Metadata) Clone() Metadata {
	if m == nil {
		return Metadata{}
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// IsCredit reports the direction of an adjustment. Missing means credit.
func (m Metadata) IsCredit() bool {
	switch v := m[MetaIsCredit].(type) {
	case bool:
		return v
	case string:
		return v != "false" && v != "0"
	case float64:
		return v != 0
	default:
		return true
	}
}

func (m Metadata) WithCredit(isCredit bool) Metadata {
	out := m.Clone()
	out[MetaIsCredit] = isCredit
	return out
}

func (m Metadata) Reason() string {
	s, _ := m[MetaReason].(string)
	return s
}

func (m Metadata) ExtensionDays() int {
	switch v := m[MetaExtensionDays].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return 0
}

func (m Metadata) DiscountCode() string {
	s, _ := m[MetaDiscountCode].(string)
	return s
}

func (m Metadata) GiftFrom() string {
	s, _ := m[MetaGiftFrom].(string)
	return s
}

func (m Metadata) encode() (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to encode metadata: %w", err)
	}
	return string(b), nil
}

func decodeMetadata(raw string) (Metadata, error) {
	m := Metadata{}
	if raw == "" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return m, nil
}
