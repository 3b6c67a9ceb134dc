package dialog

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-feedback/backend/internal/model/feedback"
	"github.com/zhouzirui/z-feedback/backend/internal/service/attachment"
	"github.com/zhouzirui/z-feedback/backend/internal/service/notify"
	"github.com/zhouzirui/z-feedback/backend/internal/service/session"
)

const user = "1001"

type recordingMailer struct {
	err   error
	panic bool
	sent  []feedback.Envelope
}

func (m *recordingMailer) Deliver(_ context.Context, envelope feedback.Envelope) error {
	if m.panic {
		panic("transport exploded")
	}
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, envelope)
	return nil
}

type brokenStorage struct{ *attachment.MemoryStorage }

func (brokenStorage) Put(context.Context, string, []byte) (string, error) {
	return "", errors.New("disk full")
}

type harness struct {
	engine  *Engine
	store   *session.MemoryStore
	storage *attachment.MemoryStorage
	mailer  *recordingMailer
}

func newHarness(t *testing.T, storage attachment.Storage) *harness {
	t.Helper()
	mem := attachment.NewMemoryStorage()
	if storage == nil {
		storage = mem
	}
	store := session.NewMemoryStore()
	mailer := &recordingMailer{}
	collector := attachment.NewCollector(storage)
	composer := notify.NewComposer(storage, notify.DefaultLabels()).
		WithClock(func() time.Time { return time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC) })
	dispatcher := notify.NewDispatcher(mailer, collector)
	return &harness{
		engine:  NewEngine(store, collector, composer, dispatcher, DefaultMessages()),
		store:   store,
		storage: mem,
		mailer:  mailer,
	}
}

func (h *harness) send(events ...feedback.Event) feedback.Prompt {
	var last feedback.Prompt
	for _, ev := range events {
		last = h.engine.Handle(context.Background(), user, ev)
	}
	return last
}

func (h *harness) state(t *testing.T) feedback.State {
	t.Helper()
	s, err := h.store.Get(context.Background(), user)
	require.NoError(t, err)
	return s.State
}

func begin() feedback.Event { return feedback.CommandEvent(feedback.CommandBegin) }
func text(v string) feedback.Event { return feedback.TextEvent(v) }
func photo(data string) feedback.Event { return feedback.AttachmentEvent([]byte(data), data+".jpg") }

func TestScenarioNoPhotos(t *testing.T) {
	h := newHarness(t, nil)

	prompt := h.send(begin(), text("Great stay"), text("Нет"), text("-"), text("-"))

	assert.Equal(t, DefaultMessages().Thanks, prompt.Text)
	require.Len(t, h.mailer.sent, 1)
	body := h.mailer.sent[0].Body
	assert.Contains(t, body, "Отзыв: Great stay")
	assert.Contains(t, body, "Детали посещения: Не указано")
	assert.Contains(t, body, "Контактные данные: Не указано")
	assert.Empty(t, h.mailer.sent[0].Attachments)
	assert.Equal(t, 0, h.store.Len())
}

func TestScenarioWithPhotos(t *testing.T) {
	h := newHarness(t, nil)

	h.send(begin(), text("text"), text("Да"), photo("X"), photo("Y"))
	s, err := h.store.Get(context.Background(), user)
	require.NoError(t, err)
	require.Len(t, s.Attachments, 2)
	assert.Equal(t, 2, h.storage.Len())

	h.send(feedback.CommandEvent(feedback.CommandDone), text("May 1"), text("Anna, +7..."))

	require.Len(t, h.mailer.sent, 1)
	attachments := h.mailer.sent[0].Attachments
	require.Len(t, attachments, 2)
	assert.Equal(t, "X", string(attachments[0].Data))
	assert.Equal(t, "Y", string(attachments[1].Data))
	assert.Equal(t, 0, h.storage.Len())
	assert.Equal(t, 0, h.store.Len())
}

func TestScenarioDispatchFailureRetainsAttachments(t *testing.T) {
	h := newHarness(t, nil)
	h.mailer.err = errors.New("smtp unreachable")

	prompt := h.send(begin(), text("text"), text("Да"), photo("X"), photo("Y"),
		feedback.CommandEvent(feedback.CommandDone), text("May 1"), text("Anna, +7..."))

	assert.Equal(t, DefaultMessages().GenericFailure, prompt.Text)
	assert.Equal(t, 0, h.store.Len())
	assert.Equal(t, 2, h.storage.Len())
}

func TestPhotoChoiceMatching(t *testing.T) {
	for _, input := range []string{"Да", "да", "ДА"} {
		h := newHarness(t, nil)
		h.send(begin(), text("text"), text(input))
		assert.Equal(t, feedback.StateAwaitingPhotos, h.state(t), input)
	}

	for _, input := range []string{"нет", "НЕТ"} {
		h := newHarness(t, nil)
		h.send(begin(), text("text"), text(input))
		assert.Equal(t, feedback.StateAwaitingVisitDetails, h.state(t), input)
	}

	for _, input := range []string{"Да ", "yes", "", "Нет!"} {
		h := newHarness(t, nil)
		prompt := h.send(begin(), text("text"), text(input))
		assert.Equal(t, feedback.StateAwaitingPhotoChoice, h.state(t), "%q", input)
		assert.Equal(t, DefaultMessages().AskPhotoChoice, prompt.Text)
		assert.Equal(t, []string{"Да", "Нет"}, prompt.Choices)
	}
}

func TestDonePhraseCompletesPhotos(t *testing.T) {
	h := newHarness(t, nil)

	prompt := h.send(begin(), text("text"), text("да"), text("Завершить отправку фото"))
	assert.Equal(t, feedback.StateAwaitingVisitDetails, h.state(t))
	assert.True(t, strings.HasSuffix(prompt.Text, DefaultMessages().AskVisitDetails))
	assert.True(t, prompt.RemoveChoices)
}

func TestUnrelatedTextInPhotosRePrompts(t *testing.T) {
	h := newHarness(t, nil)

	h.send(begin(), text("text"), text("да"), photo("X"))
	prompt := h.send(text("what now?"))
	assert.Equal(t, feedback.StateAwaitingPhotos, h.state(t))
	assert.Equal(t, DefaultMessages().AskPhotos, prompt.Text)

	s, err := h.store.Get(context.Background(), user)
	require.NoError(t, err)
	assert.Len(t, s.Attachments, 1)
}

func TestPhotoAcceptedPromptCounts(t *testing.T) {
	h := newHarness(t, nil)

	prompt := h.send(begin(), text("text"), text("да"), photo("X"), photo("Y"))
	assert.Contains(t, prompt.Text, "(2 шт.)")
	assert.Equal(t, []string{"Завершить отправку фото"}, prompt.Choices)
}

func TestZeroPhotosAfterYes(t *testing.T) {
	h := newHarness(t, nil)

	h.send(begin(), text("text"), text("Да"), feedback.CommandEvent(feedback.CommandDone), text("-"), text("-"))
	require.Len(t, h.mailer.sent, 1)
	assert.Empty(t, h.mailer.sent[0].Attachments)
}

func TestCancelFromEveryState(t *testing.T) {
	paths := map[feedback.State][]feedback.Event{
		feedback.StateAwaitingFeedback:     {begin()},
		feedback.StateAwaitingPhotoChoice:  {begin(), text("text")},
		feedback.StateAwaitingPhotos:       {begin(), text("text"), text("Да"), photo("X")},
		feedback.StateAwaitingVisitDetails: {begin(), text("text"), text("Да"), photo("X"), feedback.CommandEvent(feedback.CommandDone)},
		feedback.StateAwaitingContactInfo:  {begin(), text("text"), text("Нет"), text("-")},
	}

	for state, events := range paths {
		h := newHarness(t, nil)
		h.send(events...)
		require.Equal(t, state, h.state(t))

		prompt := h.send(feedback.CommandEvent(feedback.CommandCancel))
		assert.Equal(t, DefaultMessages().Cancelled, prompt.Text, state)
		assert.Equal(t, 0, h.store.Len(), state)
		assert.Equal(t, 0, h.storage.Len(), state)
		assert.Empty(t, h.mailer.sent, state)
	}
}

func TestBeginReplacesSessionAndReleasesAttachments(t *testing.T) {
	h := newHarness(t, nil)

	h.send(begin(), text("text"), text("Да"), photo("X"))
	require.Equal(t, 1, h.storage.Len())

	prompt := h.send(begin())
	assert.Equal(t, DefaultMessages().AskFeedback, prompt.Text)
	assert.Equal(t, feedback.StateAwaitingFeedback, h.state(t))
	assert.Equal(t, 0, h.storage.Len())
}

func TestEventsWithoutSession(t *testing.T) {
	h := newHarness(t, nil)

	prompt := h.send(text("hello"))
	assert.Equal(t, DefaultMessages().NoSession, prompt.Text)
	prompt = h.send(feedback.CommandEvent(feedback.CommandCancel))
	assert.Equal(t, DefaultMessages().NoSession, prompt.Text)
	assert.Equal(t, 0, h.store.Len())
}

func TestWrongEventKindKeepsState(t *testing.T) {
	h := newHarness(t, nil)

	h.send(begin(), photo("X"))
	assert.Equal(t, feedback.StateAwaitingFeedback, h.state(t))

	h.send(text("text"), photo("Y"))
	assert.Equal(t, feedback.StateAwaitingPhotoChoice, h.state(t))
	assert.Equal(t, 0, h.storage.Len())

	h.send(text("Нет"), feedback.CommandEvent(feedback.CommandDone))
	assert.Equal(t, feedback.StateAwaitingVisitDetails, h.state(t))
}

func TestStorageFailureTerminatesSession(t *testing.T) {
	h := newHarness(t, brokenStorage{attachment.NewMemoryStorage()})

	prompt := h.send(begin(), text("text"), text("Да"), photo("X"))
	assert.Equal(t, DefaultMessages().GenericFailure, prompt.Text)
	assert.Equal(t, 0, h.store.Len())
	assert.Empty(t, h.mailer.sent)
}

func TestPanicIsContained(t *testing.T) {
	h := newHarness(t, nil)
	h.mailer.panic = true

	prompt := h.send(begin(), text("text"), text("Нет"), text("-"), text("-"))
	assert.Equal(t, DefaultMessages().GenericFailure, prompt.Text)
	assert.Equal(t, 0, h.store.Len())
}

func TestVisitedStatesFollowTransitionTable(t *testing.T) {
	allowed := map[feedback.State][]feedback.State{
		feedback.StateAwaitingFeedback:     {feedback.StateAwaitingPhotoChoice},
		feedback.StateAwaitingPhotoChoice:  {feedback.StateAwaitingPhotos, feedback.StateAwaitingVisitDetails},
		feedback.StateAwaitingPhotos:       {feedback.StateAwaitingVisitDetails},
		feedback.StateAwaitingVisitDetails: {feedback.StateAwaitingContactInfo},
		feedback.StateAwaitingContactInfo:  {feedback.StateTerminal},
	}

	h := newHarness(t, nil)
	h.send(begin(), text("text"), text("maybe"), text("Да"), photo("X"), text("?"),
		feedback.CommandEvent(feedback.CommandDone), text("May 1"))

	s, err := h.store.Get(context.Background(), user)
	require.NoError(t, err)
	require.Equal(t, feedback.StateAwaitingFeedback, s.History[0])
	for i := 1; i < len(s.History); i++ {
		assert.Contains(t, allowed[s.History[i-1]], s.History[i], "step %d", i)
	}
	assert.Equal(t, []feedback.State{
		feedback.StateAwaitingFeedback,
		feedback.StateAwaitingPhotoChoice,
		feedback.StateAwaitingPhotos,
		feedback.StateAwaitingVisitDetails,
		feedback.StateAwaitingContactInfo,
	}, s.History)
}

func TestSweepReleasesIdleSessions(t *testing.T) {
	h := newHarness(t, nil)
	h.send(begin(), text("text"), text("Да"), photo("X"))

	assert.Equal(t, 0, h.engine.Sweep(context.Background(), time.Hour))
	assert.Equal(t, 1, h.engine.Sweep(context.Background(), -time.Second))
	assert.Equal(t, 0, h.store.Len())
	assert.Equal(t, 0, h.storage.Len())
}

// hookStorage runs onPut after a payload is written, before Submit returns.
type hookStorage struct {
	*attachment.MemoryStorage
	onPut func()
}

func (s *hookStorage) Put(ctx context.Context, name string, data []byte) (string, error) {
	location, err := s.MemoryStorage.Put(ctx, name, data)
	if s.onPut != nil {
		hook := s.onPut
		s.onPut = nil
		hook()
	}
	return location, err
}

func newHookedEngine(storage *hookStorage) (*Engine, *session.MemoryStore) {
	store := session.NewMemoryStore()
	collector := attachment.NewCollector(storage)
	engine := NewEngine(store, collector,
		notify.NewComposer(storage, notify.DefaultLabels()),
		notify.NewDispatcher(&recordingMailer{}, collector),
		DefaultMessages())
	return engine, store
}

func TestRestartDuringSubmitKeepsNewSession(t *testing.T) {
	storage := &hookStorage{MemoryStorage: attachment.NewMemoryStorage()}
	engine, store := newHookedEngine(storage)
	ctx := context.Background()

	for _, ev := range []feedback.Event{begin(), text("text"), text("Да")} {
		engine.Handle(ctx, user, ev)
	}
	var restarted feedback.Session
	storage.onPut = func() {
		engine.Handle(ctx, user, begin())
		s, err := store.Get(ctx, user)
		require.NoError(t, err)
		restarted = s
	}

	prompt := engine.Handle(ctx, user, photo("X"))
	assert.Equal(t, DefaultMessages().GenericFailure, prompt.Text)

	current, err := store.Get(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, restarted.ID, current.ID)
	assert.Equal(t, feedback.StateAwaitingFeedback, current.State)
	assert.Equal(t, 0, storage.Len())
}

func TestSweepDuringSubmitReleasesNewPhoto(t *testing.T) {
	storage := &hookStorage{MemoryStorage: attachment.NewMemoryStorage()}
	engine, store := newHookedEngine(storage)
	ctx := context.Background()

	for _, ev := range []feedback.Event{begin(), text("text"), text("Да"), photo("X")} {
		engine.Handle(ctx, user, ev)
	}
	require.Equal(t, 1, storage.Len())
	storage.onPut = func() { engine.Sweep(ctx, -time.Second) }

	engine.Handle(ctx, user, photo("Y"))
	assert.Equal(t, 0, store.Len())
	assert.Equal(t, 0, storage.Len())
}
