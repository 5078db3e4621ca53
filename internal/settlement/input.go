package settlement

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/alanyoungcy/algomarkets/internal/domain"
)

// LoadEpochInput reads the operator's epoch file. When accrualReport names a
// file relative to the epoch file, its SHA-256 becomes the accrual hash, and
// a hash given alongside it must match.
func LoadEpochInput(path string) (domain.EpochInput, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return domain.EpochInput{}, fmt.Errorf("settlement: read epoch file: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var in domain.EpochInput
	if err := dec.Decode(&in); err != nil {
		return domain.EpochInput{}, fmt.Errorf("settlement: parse %s: %v: %w", path, err, domain.ErrInvalidInput)
	}

	if in.AccrualReport != "" {
		report := in.AccrualReport
		if !filepath.IsAbs(report) {
			report = filepath.Join(filepath.Dir(path), report)
		}
		data, err := os.ReadFile(report)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// A report that lives elsewhere is only a reference.
		case err != nil:
			return domain.EpochInput{}, fmt.Errorf("settlement: read accrual report: %w", err)
		default:
			sum := sha256.Sum256(data)
			computed := hex.EncodeToString(sum[:])
			if in.AccrualHash != "" && !strings.EqualFold(in.AccrualHash, computed) {
				return domain.EpochInput{}, fmt.Errorf("settlement: accrual hash %s does not match report %s (%s): %w",
					in.AccrualHash, report, computed, domain.ErrInvalidInput)
			}
			in.AccrualHash = computed
		}
	}

	if err := ValidateInput(in); err != nil {
		return domain.EpochInput{}, err
	}
	return in, nil
}

// ValidateInput checks the fields every settlement run needs.
func ValidateInput(in domain.EpochInput) error {
	var errs []error
	if in.EpochID == 0 {
		errs = append(errs, errors.New("epochId is required"))
	}
	if in.NetRevenue == 0 {
		errs = append(errs, errors.New("netRevenue must be positive"))
	}
	if in.AccrualHash != "" {
		if _, err := AccrualDigest(in); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("settlement: invalid epoch input: %w", errors.Join(append(errs, domain.ErrInvalidInput)...))
	}
	return nil
}

// AccrualDigest decodes the hex accrual hash.
func AccrualDigest(in domain.EpochInput) ([32]byte, error) {
	var digest [32]byte
	b, err := hex.DecodeString(strings.TrimPrefix(in.AccrualHash, "0x"))
	if err != nil || len(b) != len(digest) {
		return digest, fmt.Errorf("accrualHash must be 32 bytes of hex")
	}
	copy(digest[:], b)
	return digest, nil
}
