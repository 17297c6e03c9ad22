package domain

// PlaybackState is the single authoritative playback state of an active
// party. Ephemeral: held by the coordination server, one per party,
// last writer wins.
type PlaybackState struct {
	Playing   bool      `json:"playing"`
	Position  float64   `json:"position"`
	ContentID ContentID `json:"content_id,omitempty"`
}

// PlaybackUpdate carries a partial update; nil fields are left unchanged.
// A set ContentID is a content change and resets the whole state.
type PlaybackUpdate struct {
	Playing   *bool      `json:"playing,omitempty"`
	Position  *float64   `json:"position,omitempty"`
	ContentID *ContentID `json:"content_id,omitempty"`
}

// Empty reports whether the update carries no fields at all.
func (u PlaybackUpdate) Empty() bool {
	return u.Playing == nil && u.Position == nil && u.ContentID == nil
}

// Apply merges the update into s and returns the resulting full state.
// Changing content resets position to zero and starts playing unless the
// update explicitly overrides either field.
func (u PlaybackUpdate) Apply(s PlaybackState) PlaybackState {
	if u.ContentID != nil && *u.ContentID != s.ContentID {
		s = PlaybackState{Playing: true, Position: 0, ContentID: *u.ContentID}
	} else if u.ContentID != nil {
		s.ContentID = *u.ContentID
	}
	if u.Playing != nil {
		s.Playing = *u.Playing
	}
	if u.Position != nil {
		s.Position = *u.Position
	}
	return s
}
