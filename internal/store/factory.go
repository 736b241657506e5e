package store

type Stores struct {
	q Querier
}

func NewStores(q Querier) *Stores {
	return &Stores{q: q}
}

func (s *Stores) Conversations() ConversationStore {
	return &conversationStore{q: s.q}
}

func (s *Stores) Messages() MessageStore {
	return &messageStore{q: s.q}
}

func (s *Stores) Summaries() SummaryStore {
	return &summaryStore{q: s.q}
}

func (s *Stores) Profiles() ProfileStore {
	return &profileStore{q: s.q}
}

func (s *Stores) Escalations() EscalationStore {
	return &escalationStore{q: s.q}
}

func (s *Stores) Usage() UsageStore {
	return &usageStore{q: s.q}
}
