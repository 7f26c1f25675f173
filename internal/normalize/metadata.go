package normalize

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/JakeFAU/catalog-harvester/internal/harvest"
)

// UnnamedProduct is the display name used when brand, category and code are
// all empty.
const UnnamedProduct = "Unnamed Product"

const defaultCurrency = "USD"

// Metadata is the core information derived from a listing API match.
type Metadata struct {
	ProductID string
	Brand     string
	Category  string
	Price     string
	Status    string
	Name      string
}

// Map returns the non-empty fields keyed as on the canonical record.
func (m Metadata) Map() map[string]any {
	out := map[string]any{"status": m.Status, "name": m.Name}
	for k, v := range map[string]string{
		"product_id": m.ProductID,
		"brand":      m.Brand,
		"category":   m.Category,
		"price_usd":  m.Price,
	} {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

// DeriveMetadata reads brand, category, price, status and a display name
// from a raw listing match.
func DeriveMetadata(raw map[string]any) Metadata {
	m := Metadata{
		ProductID: firstString(raw["code"]),
		Brand:     brand(raw),
		Category:  category(raw),
		Price:     price(raw["listPrice"]),
		Status:    harvest.StatusActive,
	}
	if truthy(raw["isDiscontinued"]) {
		m.Status = harvest.StatusDiscontinued
	}
	var parts []string
	for _, p := range []string{m.Brand, m.Category, m.ProductID} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	m.Name = UnnamedProduct
	if len(parts) > 0 {
		m.Name = strings.Join(parts, " ")
	}
	return m
}

// brand looks for an attribute named "brand" in the attributes list or
// map, then for a top-level brand field.
func brand(raw map[string]any) string {
	switch attrs := raw["attributes"].(type) {
	case []any:
		for _, a := range attrs {
			attr, ok := a.(map[string]any)
			if !ok {
				continue
			}
			if !strings.EqualFold(firstString(attr["name"]), "brand") && !strings.EqualFold(firstString(attr["key"]), "brand") {
				continue
			}
			for _, key := range []string{"values", "value", "text"} {
				if v := firstString(attr[key]); v != "" {
					return v
				}
			}
		}
	case map[string]any:
		for k, v := range attrs {
			if strings.EqualFold(k, "brand") {
				if s := firstString(v); s != "" {
					return s
				}
			}
		}
	}
	return firstString(raw["brand"])
}

func category(raw map[string]any) string {
	if c := firstString(raw["categories"]); c != "" {
		return c
	}
	return firstString(raw["category"])
}

// firstString returns the first non-empty string found in v. Lists yield
// their first usable element; objects their name, text, or value field.
func firstString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case []any:
		for _, item := range t {
			if s := firstString(item); s != "" {
				return s
			}
		}
	case []string:
		for _, item := range t {
			if s := strings.TrimSpace(item); s != "" {
				return s
			}
		}
	case map[string]any:
		for _, key := range []string{"name", "text", "value", "values"} {
			if s := firstString(t[key]); s != "" {
				return s
			}
		}
	}
	return ""
}

// price formats a listPrice object as "{amount:.2f} {currency}". An absent
// or unparsable amount yields "".
func price(v any) string {
	lp, ok := v.(map[string]any)
	if !ok {
		return ""
	}
	var amount float64
	switch a := lp["amount"].(type) {
	case float64:
		amount = a
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(a), 64)
		if err != nil {
			return ""
		}
		amount = parsed
	default:
		return ""
	}
	currency := strings.ToUpper(firstString(lp["currency"]))
	if currency == "" {
		currency = defaultCurrency
	}
	return fmt.Sprintf("%.2f %s", amount, currency)
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		return err == nil && b
	case float64:
		return t != 0
	}
	return false
}
