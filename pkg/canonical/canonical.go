// Package canonical provides deterministic serialization and content hashing
// for payloads written to the ProvenIQ ledger. Two structurally equal values
// always canonicalize to identical bytes regardless of field insertion order
// or numeric representation, so their hashes are comparable across services.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/terryholliday/proveniq-protect/pkg/domain"
)

// Canonicalize returns the canonical JSON encoding of v: object keys sorted
// lexicographically by UTF-8 bytes, null-valued object members omitted, HTML
// escaping disabled, numbers preserved via json.Number through the
// intermediate decode.
func Canonicalize(v any) ([]byte, error) {
	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, domain.Errorf(domain.CodeEncoding, "canonicalize: %v", err)
	}

	var generic any
	dec := json.NewDecoder(bytes.NewReader(intermediate))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, domain.Errorf(domain.CodeEncoding, "canonicalize: intermediate decode: %v", err)
	}

	return marshalCanonical(generic)
}

// Hash256Hex computes the SHA-256 digest of b, hex-encoded lowercase.
func Hash256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// HashObject canonicalizes v and returns its SHA-256 hex digest.
func HashObject(v any) (string, error) {
	b, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	return Hash256Hex(b), nil
}

// sigFields are the signature-bearing keys removed by StripSig so hashes
// commit to content, not to its own attestation.
var sigFields = map[string]struct{}{
	"sig":              {},
	"signature":        {},
	"device_signature": {},
	"sig_hex":          {},
}

// StripSig projects v onto a generic map and removes signature-bearing fields
// at the top level and one level into nested objects. The input is not
// mutated.
func StripSig(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, domain.Errorf(domain.CodeEncoding, "strip sig: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, domain.Errorf(domain.CodeEncoding, "strip sig: payload is not an object: %v", err)
	}
	for k := range m {
		if _, isSig := sigFields[k]; isSig {
			delete(m, k)
			continue
		}
		if nested, ok := m[k].(map[string]any); ok {
			for nk := range nested {
				if _, isSig := sigFields[nk]; isSig {
					delete(nested, nk)
				}
			}
		}
	}
	return m, nil
}

func marshalCanonical(v any) ([]byte, error) {
	switch t := v.(type) {
	case nil:
		return []byte("null"), nil
	case bool:
		if t {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case json.Number:
		return []byte(t.String()), nil
	case string:
		return encodeNoHTMLEscape(t)
	case []any:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, elem := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			b, err := marshalCanonical(elem)
			if err != nil {
				return nil, err
			}
			buf.Write(b)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	case map[string]any:
		// Null-valued members are omitted so an absent optional field and an
		// explicit null encode to identical bytes. Array elements keep their
		// nulls: position is significant there.
		keys := make([]string, 0, len(t))
		for k := range t {
			if t[k] == nil {
				continue
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := encodeNoHTMLEscape(k)
			if err != nil {
				return nil, err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			vb, err := marshalCanonical(t[k])
			if err != nil {
				return nil, err
			}
			buf.Write(vb)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	default:
		return nil, domain.Errorf(domain.CodeEncoding, "canonicalize: unsupported intermediate type %T", v)
	}
}

func encodeNoHTMLEscape(s string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return nil, fmt.Errorf("canonical: encode string: %w", err)
	}
	// json.Encoder appends a newline
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}
