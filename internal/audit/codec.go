package audit

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gowebpki/jcs"
)

var (
	// ErrUnknownSchema is returned for documents without a known schema tag.
	ErrUnknownSchema = errors.New("unknown audit report schema")
	// ErrDigestMismatch is returned when a stored report no longer hashes to
	// the digest recorded with its run.
	ErrDigestMismatch = errors.New("audit report digest mismatch")
)

// Encode serialises a report for storage.
func Encode(r Report) ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode audit report: %w", err)
	}
	return b, nil
}

// Digest returns the sha256 of the RFC 8785 canonical form of raw, so key
// order and whitespace in storage do not change it.
func Digest(raw []byte) (string, error) {
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize audit report: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// Decode parses a stored report, dispatching on its schema tag and
// validating it against that schema.
func Decode(raw []byte) (Report, error) {
	var head struct {
		Schema        string `json:"schema"`
		EngineVersion string `json:"engine_version"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("decode audit report: %w", err)
	}

	switch head.Schema {
	case SchemaV1:
		if err := validateV1(raw); err != nil {
			return nil, err
		}
		if err := CheckEngineVersion(head.EngineVersion); err != nil {
			return nil, err
		}
		var r ReportV1
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&r); err != nil {
			return nil, fmt.Errorf("decode %s report: %w", SchemaV1, err)
		}
		return &r, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSchema, head.Schema)
	}
}

// Verify checks raw against a previously recorded digest and decodes it.
func Verify(raw []byte, digest string) (Report, error) {
	got, err := Digest(raw)
	if err != nil {
		return nil, err
	}
	if got != digest {
		return nil, fmt.Errorf("%w: stored %s, computed %s", ErrDigestMismatch, digest, got)
	}
	return Decode(raw)
}
