package reference

import (
	"log/slog"

	"github.com/mirahollis/classphoto-organizer/internal/normalize"
)

// annotateDisplayNames looks up each Person's normalized name against the
// optional roster and, on a match, stamps the canonical display name onto
// every index record for that person. A miss, a nil Roster, or a lookup
// error is logged and otherwise ignored — the roster is strictly additive.
func (s *Store) annotateDisplayNames(persons []Person, records []indexRecord, log *slog.Logger) {
	if s.Roster == nil {
		return
	}

	display := make(map[string]string, len(persons))
	for _, p := range persons {
		name, ok := s.Roster.DisplayName(normalize.PersonName(p.Name))
		if !ok {
			continue
		}
		display[p.Name] = name
	}
	if len(display) == 0 {
		return
	}

	for i := range records {
		if name, ok := display[records[i].Person]; ok {
			records[i].DisplayName = name
		}
	}
	log.Info("reference: roster cross-check annotated persons", "count", len(display))
}
