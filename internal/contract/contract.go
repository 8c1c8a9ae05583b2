// Package contract freezes the schema of every JSON document that crosses
// a stage boundary: the targets index, the run provenance, the acceptance
// report, the eval report, and the selection lock. Stages never exchange
// ad-hoc JSON; they read and write these five kinds through this package
// so a contract bump is a single, visible event.
package contract

// ContractVersion versions the inter-stage wire format. Bumping this
// string is the only supported way to evolve the artifact schemas; every
// artifact embeds it and every schema pins it with a const clause.
const ContractVersion = "1.0.0"

// Kind identifies one stage artifact document type.
type Kind string

const (
	KindTargetsIndex     Kind = "targets-index"
	KindProvenanceRun    Kind = "provenance-run"
	KindAcceptanceReport Kind = "acceptance-report"
	KindEvalReport       Kind = "eval-report"
	KindSelectionLock    Kind = "selection-lock"
)

// Kinds lists every artifact kind in stable order.
func Kinds() []Kind {
	return []Kind{
		KindTargetsIndex,
		KindProvenanceRun,
		KindAcceptanceReport,
		KindEvalReport,
		KindSelectionLock,
	}
}

// KnownKind reports whether k names one of the five artifact kinds.
func KnownKind(k Kind) bool {
	for _, known := range Kinds() {
		if k == known {
			return true
		}
	}
	return false
}
