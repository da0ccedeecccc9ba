/*

Adaptor interface.

One adaptor per external protocol. The core treats positions as opaque
references; the adaptor owns the protocol-side state behind the handle and is
the only party that can translate it into a USD value.

Two contracts every implementation must honor:

  - Value validates that the position it was handed corresponds to the stored
    protocol object (kind AND handle), returning ErrAssetIdentityMismatch
    otherwise. A caller can never get pool A priced with pool B's state.
  - Value reports a signed economic value. An underwater position reports its
    true negative value or fails loudly with ErrPositionUnhealthy; it never
    silently reports zero.

*/

package adaptor

import (
	"time"

	"github.com/halcyon-labs/yve/internal/types"
)

// PriceSource supplies normalized prices during valuation. Satisfied by
// *oracle.Gateway.
type PriceSource interface {
	Price(kind types.AssetKind, now time.Time) (types.Dec, uint8, error)
}

// Adaptor translates one external protocol's positions for the core.
type Adaptor interface {
	// Kind is the asset kind this adaptor owns.
	Kind() types.AssetKind

	// Borrow hands exclusive custody of the position to the caller for the
	// duration of an operation.
	Borrow(pos types.Position) error

	// Return ends the custody started by Borrow. The position identity must
	// be exactly what was borrowed.
	Return(pos types.Position) error

	// Value reports the signed USD value of the position.
	Value(pos types.Position, src PriceSource, now time.Time) (types.Dec, error)
}
