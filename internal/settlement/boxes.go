package settlement

import (
	"encoding/binary"
	"fmt"

	"github.com/alanyoungcy/algomarkets/internal/domain"
)

// Epoch box prefixes of the revenue contract.
const (
	BoxEpochStatus = "epoch_status"
	BoxEpochHash   = "epoch_hash"
	BoxEpochNet    = "epoch_net"
)

// Box value sizes in bytes.
const (
	statusSize = 8
	hashSize   = 32
	netSize    = 8
)

// Values stored in the epoch_status box.
const (
	statusCreated uint64 = 1
	statusClosed  uint64 = 2
)

// BoxSpec is a box the flow expects a call to create.
type BoxSpec struct {
	Name []byte
	Size int
}

// MBR is the minimum balance the box adds to its application.
func (b BoxSpec) MBR() uint64 {
	return BoxMBR(len(b.Name), b.Size)
}

// BoxMBR is 2500 + 400 * (name length + value size) microAlgos.
func BoxMBR(nameLen, size int) uint64 {
	return 2500 + 400*uint64(nameLen+size)
}

// EpochBoxName is prefix followed by the 8-byte big-endian epoch id.
func EpochBoxName(prefix string, epochID uint64) []byte {
	name := make([]byte, len(prefix)+8)
	copy(name, prefix)
	binary.BigEndian.PutUint64(name[len(prefix):], epochID)
	return name
}

// EpochBoxSpecs returns the three boxes of an epoch in declaration order.
func EpochBoxSpecs(epochID uint64) []BoxSpec {
	return []BoxSpec{
		{Name: EpochBoxName(BoxEpochStatus, epochID), Size: statusSize},
		{Name: EpochBoxName(BoxEpochHash, epochID), Size: hashSize},
		{Name: EpochBoxName(BoxEpochNet, epochID), Size: netSize},
	}
}

func boxRefs(appID uint64, specs ...BoxSpec) []domain.BoxRef {
	refs := make([]domain.BoxRef, 0, len(specs))
	for _, s := range specs {
		refs = append(refs, domain.BoxRef{AppID: appID, Name: s.Name})
	}
	return refs
}

func decodeStatus(v []byte) (domain.EpochState, error) {
	if len(v) != statusSize {
		return domain.EpochUncreated, fmt.Errorf("settlement: epoch status box has %d bytes, want %d", len(v), statusSize)
	}
	switch s := binary.BigEndian.Uint64(v); s {
	case statusCreated:
		return domain.EpochCreated, nil
	case statusClosed:
		return domain.EpochClosed, nil
	default:
		return domain.EpochUncreated, fmt.Errorf("settlement: unknown epoch status %d", s)
	}
}
