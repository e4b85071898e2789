package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pathwise/pathwise/internal/coaching/focusareas"
	"github.com/pathwise/pathwise/internal/coaching/profiles"
	"github.com/pathwise/pathwise/internal/coaching/sessions"
	"github.com/pathwise/pathwise/internal/coaching/suggestions"
	"github.com/pathwise/pathwise/internal/coaching/understanding"
	"github.com/pathwise/pathwise/internal/coaching/wins"
	"github.com/pathwise/pathwise/internal/llm"
)

// fakeGenerator pops scripted replies in call order. The background path
// shares it with the fast path, so it is locked.
type fakeGenerator struct {
	mu            sync.Mutex
	replies       []string
	failStream    bool
	generateCalls int
	streamCalls   int
}

func (g *fakeGenerator) next() string {
	if len(g.replies) == 0 {
		return "{}"
	}
	reply := g.replies[0]
	g.replies = g.replies[1:]
	return reply
}

func (g *fakeGenerator) Generate(ctx context.Context, system, user string) (*llm.Generation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.generateCalls++
	return &llm.Generation{Text: g.next(), Usage: llm.Usage{InputTokens: 10, OutputTokens: 5}}, nil
}

func (g *fakeGenerator) GenerateStream(ctx context.Context, system, user string, emit func(string)) (*llm.Generation, error) {
	g.mu.Lock()
	g.streamCalls++
	if g.failStream {
		g.mu.Unlock()
		return nil, errors.New("stream unavailable")
	}
	reply := g.next()
	g.mu.Unlock()

	half := len(reply) / 2
	emit(reply[:half])
	emit(reply[half:])
	return &llm.Generation{Text: reply, Usage: llm.Usage{InputTokens: 10, OutputTokens: 5}}, nil
}

func (g *fakeGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.generateCalls + g.streamCalls
}

type fakeSessionStore struct {
	mu       sync.Mutex
	sessions map[string]*sessions.Session
	messages map[string][]sessions.Message
	failSave bool
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{
		sessions: make(map[string]*sessions.Session),
		messages: make(map[string][]sessions.Message),
	}
}

func (s *fakeSessionStore) CreateSession(ctx context.Context, session *sessions.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *session
	s.sessions[session.SessionID] = &copied
	return nil
}

func (s *fakeSessionStore) GetSession(ctx context.Context, sessionID string) (*sessions.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	copied := *session
	return &copied, nil
}

func (s *fakeSessionStore) LatestCompleted(ctx context.Context, userID, excludeSessionID string) (*sessions.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *sessions.Session
	for _, session := range s.sessions {
		if session.UserID != userID || session.Status != sessions.StatusCompleted {
			continue
		}
		if session.SessionID == excludeSessionID {
			continue
		}
		if latest == nil || session.CreatedAt.After(latest.CreatedAt) {
			latest = session
		}
	}
	if latest == nil {
		return nil, nil
	}
	copied := *latest
	return &copied, nil
}

func (s *fakeSessionStore) DeleteSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return errors.New("session not found")
	}
	delete(s.sessions, sessionID)
	delete(s.messages, sessionID)
	return nil
}

func (s *fakeSessionStore) CompleteSession(ctx context.Context, sessionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok || session.Status != sessions.StatusActive {
		return false, nil
	}
	session.Status = sessions.StatusCompleted
	session.EvolutionStatus = sessions.EvolutionPending
	return true, nil
}

func (s *fakeSessionStore) SaveNotes(ctx context.Context, sessionID string, notes *sessions.SessionNotes, title, narrativeSnapshot, milestone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSave {
		return errors.New("save notes unavailable")
	}
	session, ok := s.sessions[sessionID]
	if !ok {
		return errors.New("session not found")
	}
	session.Notes = notes
	session.Title = title
	session.NarrativeSnapshot = narrativeSnapshot
	session.Milestone = milestone
	return nil
}

func (s *fakeSessionStore) SetTitle(ctx context.Context, sessionID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session, ok := s.sessions[sessionID]; ok {
		session.Title = title
	}
	return nil
}

func (s *fakeSessionStore) SetEvolutionStatus(ctx context.Context, sessionID string, status sessions.EvolutionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return errors.New("session not found")
	}
	session.EvolutionStatus = status
	return nil
}

func (s *fakeSessionStore) ListUnevolved(ctx context.Context, userID, excludeSessionID string) ([]sessions.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []sessions.Session
	for _, session := range s.sessions {
		if session.UserID != userID || session.Status != sessions.StatusCompleted {
			continue
		}
		if session.EvolutionStatus == sessions.EvolutionCompleted {
			continue
		}
		if session.SessionID == excludeSessionID {
			continue
		}
		result = append(result, *session)
	}
	return result, nil
}

func (s *fakeSessionStore) AppendMessage(ctx context.Context, message *sessions.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[message.SessionID] = append(s.messages[message.SessionID], *message)
	return nil
}

func (s *fakeSessionStore) GetMessages(ctx context.Context, sessionID string) ([]sessions.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sessions.Message(nil), s.messages[sessionID]...), nil
}

func (s *fakeSessionStore) evolutionStatus(sessionID string) sessions.EvolutionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session, ok := s.sessions[sessionID]; ok {
		return session.EvolutionStatus
	}
	return ""
}

type fakeUnderstandingStore struct {
	mu         sync.Mutex
	records    map[string]*understanding.Understanding
	failUpsert bool
}

func newFakeUnderstandingStore() *fakeUnderstandingStore {
	return &fakeUnderstandingStore{records: make(map[string]*understanding.Understanding)}
}

func (s *fakeUnderstandingStore) Get(ctx context.Context, userID string) (*understanding.Understanding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[userID]
	if !ok {
		return nil, nil
	}
	copied := *record
	return &copied, nil
}

func (s *fakeUnderstandingStore) Upsert(ctx context.Context, u *understanding.Understanding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpsert {
		return errors.New("understanding storage unavailable")
	}
	copied := *u
	s.records[u.UserID] = &copied
	return nil
}

type fakeSuggestionStore struct {
	mu   sync.Mutex
	sets []suggestions.SuggestionSet
}

func (s *fakeSuggestionStore) InsertSet(ctx context.Context, set *suggestions.SuggestionSet) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.sets {
		if s.sets[i].GeneratedAfterSessionID == set.GeneratedAfterSessionID {
			return false, nil
		}
	}
	copied := *set
	copied.UUID = uuid.New()
	copied.CreatedAt = time.Now()
	s.sets = append(s.sets, copied)
	return true, nil
}

func (s *fakeSuggestionStore) ExistsForSession(ctx context.Context, sessionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.sets {
		if s.sets[i].GeneratedAfterSessionID == sessionID {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeSuggestionStore) Latest(ctx context.Context, userID string) (*suggestions.SuggestionSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *suggestions.SuggestionSet
	for i := range s.sets {
		if s.sets[i].UserID != userID {
			continue
		}
		if latest == nil || s.sets[i].CreatedAt.After(latest.CreatedAt) {
			latest = &s.sets[i]
		}
	}
	if latest == nil {
		return nil, nil
	}
	copied := *latest
	return &copied, nil
}

func (s *fakeSuggestionStore) RecentTitles(ctx context.Context, userID string, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var titles []string
	for i := len(s.sets) - 1; i >= 0 && len(titles) < limit; i-- {
		if s.sets[i].UserID != userID {
			continue
		}
		for _, suggestion := range s.sets[i].Suggestions {
			titles = append(titles, suggestion.Title)
		}
	}
	return titles, nil
}

func (s *fakeSuggestionStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sets)
}

type fakeFocusAreaStore struct {
	mu    sync.Mutex
	areas []focusareas.FocusArea
}

func (s *fakeFocusAreaStore) Create(ctx context.Context, area *focusareas.FocusArea) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.areas = append(s.areas, *area)
	return nil
}

func (s *fakeFocusAreaStore) ListActive(ctx context.Context, userID string) ([]focusareas.FocusArea, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []focusareas.FocusArea
	for i := range s.areas {
		if s.areas[i].UserID == userID && s.areas[i].Active() {
			result = append(result, s.areas[i])
		}
	}
	return result, nil
}

func (s *fakeFocusAreaStore) AppendReflection(ctx context.Context, areaID uuid.UUID, reflection focusareas.Reflection) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.areas {
		if s.areas[i].UUID != areaID {
			continue
		}
		return focusareas.AppendReflection(&s.areas[i], reflection), nil
	}
	return false, errors.New("focus area not found")
}

func (s *fakeFocusAreaStore) Archive(ctx context.Context, areaID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for i := range s.areas {
		if s.areas[i].UUID == areaID && s.areas[i].Active() {
			s.areas[i].ArchivedAt = &now
		}
	}
	return nil
}

func (s *fakeFocusAreaStore) Reframe(ctx context.Context, oldAreaID uuid.UUID, replacement *focusareas.FocusArea) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for i := range s.areas {
		if s.areas[i].UUID == oldAreaID {
			s.areas[i].ArchivedAt = &now
		}
	}
	s.areas = append(s.areas, *replacement)
	return nil
}

func (s *fakeFocusAreaStore) byID(areaID uuid.UUID) *focusareas.FocusArea {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.areas {
		if s.areas[i].UUID == areaID {
			copied := s.areas[i]
			return &copied
		}
	}
	return nil
}

type fakeWinStore struct {
	mu      sync.Mutex
	wins    []wins.Win
	failAll bool
}

func (s *fakeWinStore) Create(ctx context.Context, win *wins.Win) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wins = append(s.wins, *win)
	return nil
}

func (s *fakeWinStore) Recent(ctx context.Context, userID string, limit int) ([]wins.Win, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return nil, errors.New("win storage unavailable")
	}
	var result []wins.Win
	for i := len(s.wins) - 1; i >= 0 && len(result) < limit; i-- {
		if s.wins[i].UserID == userID {
			result = append(result, s.wins[i])
		}
	}
	return result, nil
}

func (s *fakeWinStore) ForSession(ctx context.Context, sessionID string) ([]wins.Win, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return nil, errors.New("win storage unavailable")
	}
	var result []wins.Win
	for i := range s.wins {
		if s.wins[i].SessionID == sessionID {
			result = append(result, s.wins[i])
		}
	}
	return result, nil
}

type fakeProfileStore struct {
	mu            sync.Mutex
	profiles      map[string]*profiles.Profile
	sessionCounts map[string]int
}

func newFakeProfileStore() *fakeProfileStore {
	return &fakeProfileStore{
		profiles:      make(map[string]*profiles.Profile),
		sessionCounts: make(map[string]int),
	}
}

func (s *fakeProfileStore) Get(ctx context.Context, userID string) (*profiles.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	profile, ok := s.profiles[userID]
	if !ok {
		return nil, nil
	}
	copied := *profile
	return &copied, nil
}

func (s *fakeProfileStore) Upsert(ctx context.Context, profile *profiles.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *profile
	s.profiles[profile.UserID] = &copied
	return nil
}

func (s *fakeProfileStore) CountSessions(ctx context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionCounts[userID], nil
}
