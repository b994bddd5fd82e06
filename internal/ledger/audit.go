package ledger

import "context"

// AuditReport summarises a full walk of the chain.
type AuditReport struct {
	Records int    `json:"records"`
	Flagged int    `json:"flagged"`
	Head    string `json:"head"`
	Intact  bool   `json:"intact"`

	// BrokenAt is the content hash of the first record whose link does not
	// recompute, empty when the chain is intact.
	BrokenAt string `json:"broken_at,omitempty"`
	// BrokenIndex is the zero-based chronological position of BrokenAt. It is
	// always encoded since 0 names the first record; read it only when !Intact.
	BrokenIndex int `json:"broken_index"`
}

// Audit walks the whole chain in issue order and reports the first broken
// link. It is read-only: unlike Verify it never flags records.
func (e *Engine) Audit(ctx context.Context) (*AuditReport, error) {
	report := &AuditReport{Head: GenesisLink, Intact: true}
	prevLink := GenesisLink

	err := e.store.Walk(ctx, func(r *Record) error {
		if !r.Valid {
			report.Flagged++
		}
		if report.Intact {
			if ok, _ := e.linkMatches(r, prevLink); !ok {
				report.Intact = false
				report.BrokenAt = r.ContentHash
				report.BrokenIndex = report.Records
			}
		}
		prevLink = r.ChainLink
		report.Head = r.ChainLink
		report.Records++
		return nil
	})
	if err != nil {
		return nil, storeErr("walk", "", err)
	}
	return report, nil
}
