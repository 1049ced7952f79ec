package custody

// Append mints the event that follows predecessorHash in a lot's chain. Pass
// the empty string for the lot's first event.
//
// Append does not check that predecessorHash belongs to any stored event;
// Validate does that with the whole chain in hand.
func Append(f Fields, predecessorHash string) (Event, error) {
	f.Timestamp = NormalizeTimestamp(f.Timestamp)

	h, err := Hash(f, predecessorHash)
	if err != nil {
		return Event{}, err
	}

	return Event{
		ID:        f.ID,
		LotID:     f.LotID,
		Type:      f.Type,
		Timestamp: f.Timestamp,
		ActorUID:  f.ActorUID,
		Data:      f.Data,
		PrevHash:  predecessorHash,
		Hash:      h,
	}, nil
}
