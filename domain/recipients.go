package domain

// Recipients resolves the audience of a mutation: the event organizer plus
// every user with a live RSVP, minus the acting user unless includeActor is
// set. The result preserves input order and contains no duplicates.
func Recipients(organizerID, actorID string, rsvpUserIDs []string, includeActor bool) []string {
	seen := make(map[string]struct{}, len(rsvpUserIDs)+1)
	out := make([]string, 0, len(rsvpUserIDs)+1)
	add := func(id string) {
		if id == "" {
			return
		}
		if id == actorID && !includeActor {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	add(organizerID)
	for _, id := range rsvpUserIDs {
		add(id)
	}
	return out
}
