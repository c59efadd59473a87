package lottery

import (
	"fmt"
	"sort"

	"github.com/jswmusik/jobbeli/internal/audit"
	"github.com/jswmusik/jobbeli/internal/engine"
	"github.com/jswmusik/jobbeli/internal/model"
)

// PlanWrites turns an allocation into the application status transitions a
// run commits:
//
//   - the winning application of a matched candidate becomes OFFERED and
//     their other applications in the group become REJECTED
//   - every application of a reserved candidate becomes RESERVE
//   - every ineligible application becomes REJECTED
//
// Applications not seen by the filter are left alone. Each write carries the
// status read from the snapshot so the commit can detect concurrent changes.
// The result is ordered by application id.
func PlanWrites(apps []model.Application, el *engine.Eligibility, alloc *engine.Allocation) ([]model.StatusWrite, error) {
	byID := make(map[string]model.Application, len(apps))
	for _, a := range apps {
		byID[a.ID] = a
	}

	planned := make(map[string]model.ApplicationStatus)
	set := func(appID string, to model.ApplicationStatus) error {
		if prev, ok := planned[appID]; ok {
			return fmt.Errorf("%w: application %s written twice (%s, %s)", audit.ErrInvariantViolation, appID, prev, to)
		}
		a, ok := byID[appID]
		if !ok {
			return fmt.Errorf("%w: application %s is not in the snapshot", audit.ErrInvariantViolation, appID)
		}
		if !a.Status.CanTransition(to) {
			return fmt.Errorf("%w: application %s cannot move %s → %s", audit.ErrInvariantViolation, appID, a.Status, to)
		}
		planned[appID] = to
		return nil
	}

	won := make(map[string]string, len(alloc.Matches))
	for _, m := range alloc.Matches {
		won[m.YouthID] = m.ApplicationID
	}
	reserved := make(map[string]bool, len(alloc.Reserves))
	for _, id := range alloc.Reserves {
		reserved[id] = true
	}

	for _, c := range el.Candidates {
		winner, matched := won[c.YouthID]
		if !matched && !reserved[c.YouthID] {
			return nil, fmt.Errorf("%w: candidate %s neither matched nor reserved", audit.ErrInvariantViolation, c.YouthID)
		}
		for _, ch := range c.Choices {
			to := model.AppReserve
			switch {
			case matched && ch.ApplicationID == winner:
				to = model.AppOffered
			case matched:
				to = model.AppRejected
			}
			if err := set(ch.ApplicationID, to); err != nil {
				return nil, err
			}
		}
	}
	for _, in := range el.Ineligible {
		if err := set(in.ApplicationID, model.AppRejected); err != nil {
			return nil, err
		}
	}

	writes := make([]model.StatusWrite, 0, len(planned))
	for id, to := range planned {
		writes = append(writes, model.StatusWrite{ApplicationID: id, From: byID[id].Status, To: to})
	}
	sort.Slice(writes, func(i, j int) bool { return writes[i].ApplicationID < writes[j].ApplicationID })
	return writes, nil
}
