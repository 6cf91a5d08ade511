package alerts

// Result is the outcome of merging one cycle's alerts.
type Result struct {
	Combined  []Alert `json:"combined"`
	Candidate *Alert  `json:"candidate,omitempty"`
}

// Aggregate merges persisted alerts (verbatim, input order) with generated
// alerts (input order, appended after). The dispatch candidate is the first
// generated alert of high severity; persisted alerts never become
// candidates. Inputs are not modified, so repeated calls give equal results.
func Aggregate(generated, persisted []Alert) Result {
	combined := make([]Alert, 0, len(persisted)+len(generated))
	for i := range persisted {
		combined = append(combined, cloneAlert(&persisted[i]))
	}
	for i := range generated {
		combined = append(combined, cloneAlert(&generated[i]))
	}

	var candidate *Alert
	for i := range generated {
		if generated[i].Severity == SeverityHigh {
			c := cloneAlert(&generated[i])
			candidate = &c
			break
		}
	}

	return Result{Combined: combined, Candidate: candidate}
}

// similarityKey groups alerts describing the same condition: same wallet,
// same type, same transaction (or counterparty when there is no tx ID).
type similarityKey struct {
	walletID string
	typ      Type
	ref      string
}

func keyOf(a *Alert) similarityKey {
	ref := a.TxID
	if ref == "" && a.Tx != nil {
		ref = a.Tx.ID
		if ref == "" {
			ref = "cp:" + a.Tx.Counterparty
		}
	}
	return similarityKey{walletID: a.WalletID, typ: a.Type, ref: ref}
}

// Dedupe keeps the first alert of each (wallet, type, transaction) group,
// preserving order. Used for summary counts only, never for candidate
// selection.
func Dedupe(list []Alert) []Alert {
	seen := make(map[similarityKey]struct{}, len(list))
	out := make([]Alert, 0, len(list))
	for i := range list {
		k := keyOf(&list[i])
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, list[i])
	}
	return out
}

// CountBySeverity tallies alerts per severity.
func CountBySeverity(list []Alert) map[Severity]int {
	counts := make(map[Severity]int)
	for _, a := range list {
		counts[a.Severity]++
	}
	return counts
}
