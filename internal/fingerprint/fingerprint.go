// Package fingerprint computes the canonical dedup hash for a Request.
package fingerprint

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/qcrawl/qcrawl/internal/urlnorm"
)

// ErrConflictingQueryFilter is returned by New when both IgnoreQueryParams and
// KeepQueryParams are set; the two are mutually exclusive.
var ErrConflictingQueryFilter = errors.New("fingerprint: ignore and keep query params are mutually exclusive")

const defaultDigestSize = 16

// Fingerprinter computes a stable, short digest of a request for
// deduplication. Equal fingerprints mean semantically equivalent fetches.
type Fingerprinter struct {
	ignoreQueryParams map[string]bool
	keepQueryParams   map[string]bool
	digestSize        int
}

// Option configures a Fingerprinter.
type Option func(*Fingerprinter)

// IgnoreQueryParams strips the named query parameters before hashing.
func IgnoreQueryParams(names ...string) Option {
	return func(f *Fingerprinter) {
		f.ignoreQueryParams = toSet(names)
	}
}

// KeepQueryParams keeps only the named query parameters before hashing.
func KeepQueryParams(names ...string) Option {
	return func(f *Fingerprinter) {
		f.keepQueryParams = toSet(names)
	}
}

// DigestSize overrides the default 16-byte BLAKE2b digest size.
func DigestSize(n int) Option {
	return func(f *Fingerprinter) { f.digestSize = n }
}

// New builds a Fingerprinter. Returns ErrConflictingQueryFilter if both
// IgnoreQueryParams and KeepQueryParams are supplied.
func New(opts ...Option) (*Fingerprinter, error) {
	f := &Fingerprinter{digestSize: defaultDigestSize}
	for _, opt := range opts {
		opt(f)
	}
	if len(f.ignoreQueryParams) > 0 && len(f.keepQueryParams) > 0 {
		return nil, ErrConflictingQueryFilter
	}
	return f, nil
}

// request is the minimal shape a Fingerprinter needs; kept local to avoid an
// import cycle with internal/types (types.Request embeds these fields).
type request interface {
	FingerprintMethod() string
	FingerprintURL() string
	FingerprintBody() []byte
}

// Fingerprint returns the request's dedup digest: BLAKE2b(digestSize) over
// method + 0x00 + normalized-url + 0x00 + body, with the URL re-normalized
// after query-param filtering when configured.
func (f *Fingerprinter) Fingerprint(req request) ([]byte, error) {
	normalizedURL := req.FingerprintURL()
	if len(f.ignoreQueryParams) > 0 || len(f.keepQueryParams) > 0 {
		filtered, err := urlnorm.FilterQueryParams(normalizedURL, f.ignoreQueryParams, f.keepQueryParams)
		if err != nil {
			return nil, fmt.Errorf("fingerprint: filter query params: %w", err)
		}
		normalizedURL = filtered
	}

	raw := []byte(req.FingerprintMethod())
	raw = append(raw, 0x00)
	raw = append(raw, normalizedURL...)
	raw = append(raw, 0x00)
	raw = append(raw, req.FingerprintBody()...)

	digest, err := blake2b.New(f.digestSize, nil)
	if err != nil {
		return nil, fmt.Errorf("fingerprint: init blake2b: %w", err)
	}
	digest.Write(raw)
	return digest.Sum(nil), nil
}

func toSet(names []string) map[string]bool {
	if len(names) == 0 {
		return nil
	}
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}
