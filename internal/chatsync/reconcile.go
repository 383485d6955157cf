package chatsync

// Merge folds a fetched batch into the conversation and returns the messages
// it had not seen before, in batch order.
//
// An incoming message is dropped when its ServerID is already stored. When
// its ClientID matches a local optimistic entry, that entry is replaced by
// the confirmed copy in place of inserting a second one; the replacement is
// not reported as new. Merging the same batch again is a no-op.
func (s *Store) Merge(conversationID string, batch []Message) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.thread(conversationID)

	servers := make(map[string]struct{}, len(t.entries))
	clients := make(map[string]*entry, len(t.entries))
	for _, e := range t.entries {
		if e.msg.ServerID != "" {
			servers[e.msg.ServerID] = struct{}{}
		}
		if e.msg.ClientID != "" {
			clients[e.msg.ClientID] = e
		}
	}

	var (
		admitted []Message
		moved    bool
	)
	for _, in := range batch {
		if in.ServerID == "" {
			continue
		}
		if in.ConversationID != "" && in.ConversationID != conversationID {
			continue
		}
		if _, ok := servers[in.ServerID]; ok {
			continue
		}
		in.ConversationID = conversationID
		in.State = Confirmed

		if in.ClientID != "" {
			if local, ok := clients[in.ClientID]; ok {
				if local.msg.State != Confirmed {
					if in.SenderName == "" {
						in.SenderName = local.msg.SenderName
					}
					local.msg = in
					servers[in.ServerID] = struct{}{}
					moved = true
				}
				continue
			}
		}

		e := &entry{msg: in, seq: s.next()}
		t.entries = append(t.entries, e)
		servers[in.ServerID] = struct{}{}
		if in.ClientID != "" {
			clients[in.ClientID] = e
		}
		admitted = append(admitted, in)
		moved = true
	}

	if moved {
		t.sort()
	}
	return admitted
}
