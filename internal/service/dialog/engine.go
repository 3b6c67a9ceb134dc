package dialog

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/zhouzirui/z-feedback/backend/internal/model/feedback"
	"github.com/zhouzirui/z-feedback/backend/internal/service/attachment"
	"github.com/zhouzirui/z-feedback/backend/internal/service/notify"
	"github.com/zhouzirui/z-feedback/backend/internal/service/session"
)

// ErrInternal wraps unexpected faults, including recovered panics.
var ErrInternal = errors.New("internal dialog failure")

// Engine advances feedback sessions one event at a time. Callers must
// serialize events per user; distinct users may be handled concurrently.
type Engine struct {
	store      session.Store
	collector  *attachment.Collector
	composer   *notify.Composer
	dispatcher *notify.Dispatcher
	messages   Messages
}

// NewEngine wires the dialog to its collaborators.
func NewEngine(store session.Store, collector *attachment.Collector, composer *notify.Composer, dispatcher *notify.Dispatcher, messages Messages) *Engine {
	return &Engine{
		store:      store,
		collector:  collector,
		composer:   composer,
		dispatcher: dispatcher,
		messages:   messages,
	}
}

// ActiveSessions reports how many conversations are in progress.
func (e *Engine) ActiveSessions() int {
	return e.store.Len()
}

// Handle processes one inbound event and returns exactly one prompt.
// Faults never escape: they are logged, the session is torn down, and the
// user receives the generic failure message.
func (e *Engine) Handle(ctx context.Context, userID string, event feedback.Event) feedback.Prompt {
	if event.Kind == feedback.EventCommand {
		switch event.Command {
		case feedback.CommandBegin:
			return e.begin(ctx, userID)
		case feedback.CommandCancel:
			return e.cancel(ctx, userID)
		}
	}

	current, err := e.store.Get(ctx, userID)
	if errors.Is(err, session.ErrSessionNotFound) {
		return feedback.Prompt{Text: e.messages.NoSession, RemoveChoices: true}
	}
	if err != nil {
		return e.fail(ctx, userID, "", "", event, err)
	}

	stored := len(current.Attachments)
	prompt, err := e.safeStep(ctx, &current, event)
	if err != nil {
		e.releaseAdded(ctx, current, stored)
		return e.fail(ctx, userID, current.ID, current.State, event, err)
	}

	if current.State == feedback.StateTerminal {
		if _, err := e.store.DeleteIfCurrent(ctx, userID, current.ID); err != nil && !errors.Is(err, session.ErrSessionNotFound) {
			log.Printf("[dialog] failed to remove finished session user=%s: %v", userID, err)
		}
		return prompt
	}

	if err := e.store.Update(ctx, current); err != nil {
		// Nothing references payloads persisted by this step any more.
		e.releaseAdded(ctx, current, stored)
		return e.fail(ctx, userID, current.ID, current.State, event, err)
	}
	return prompt
}

// releaseAdded deletes attachments appended to s after the first stored refs.
func (e *Engine) releaseAdded(ctx context.Context, s feedback.Session, stored int) {
	if len(s.Attachments) > stored {
		e.collector.Release(ctx, s.Attachments[stored:])
	}
}

func (e *Engine) begin(ctx context.Context, userID string) feedback.Prompt {
	created, replaced, err := e.store.Create(ctx, userID)
	if err != nil {
		return e.fail(ctx, userID, "", "", feedback.CommandEvent(feedback.CommandBegin), err)
	}
	if replaced != nil {
		log.Printf("[dialog] user=%s restarted, discarding session %s", userID, replaced.ID)
		e.collector.Release(ctx, replaced.Attachments)
	}
	log.Printf("[dialog] user=%s started session %s", userID, created.ID)
	return feedback.Prompt{Text: e.messages.AskFeedback, RemoveChoices: true}
}

func (e *Engine) cancel(ctx context.Context, userID string) feedback.Prompt {
	removed, err := e.store.Delete(ctx, userID)
	if errors.Is(err, session.ErrSessionNotFound) {
		return feedback.Prompt{Text: e.messages.NoSession, RemoveChoices: true}
	}
	if err != nil {
		return e.fail(ctx, userID, "", "", feedback.CommandEvent(feedback.CommandCancel), err)
	}
	e.collector.Release(ctx, removed.Attachments)
	log.Printf("[dialog] user=%s cancelled session %s in state %s", userID, removed.ID, removed.State)
	return feedback.Prompt{Text: e.messages.Cancelled, RemoveChoices: true}
}

func (e *Engine) safeStep(ctx context.Context, s *feedback.Session, event feedback.Event) (prompt feedback.Prompt, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrInternal, r)
		}
	}()
	return e.step(ctx, s, event)
}

// step applies the transition table. A nil error with an unchanged state is a
// validation mismatch: the user is simply asked again.
func (e *Engine) step(ctx context.Context, s *feedback.Session, event feedback.Event) (feedback.Prompt, error) {
	if s.Fields == nil {
		s.Fields = make(map[feedback.Field]string, 3)
	}

	switch s.State {
	case feedback.StateAwaitingFeedback:
		if event.Kind != feedback.EventText {
			return e.promptFor(s.State), nil
		}
		s.Fields[feedback.FieldFeedbackText] = event.Text
		s.Transition(feedback.StateAwaitingPhotoChoice)
		return e.promptFor(s.State), nil

	case feedback.StateAwaitingPhotoChoice:
		if event.Kind != feedback.EventText {
			return e.promptFor(s.State), nil
		}
		switch {
		case strings.EqualFold(event.Text, e.messages.YesToken):
			s.Attachments = []feedback.AttachmentRef{}
			s.Transition(feedback.StateAwaitingPhotos)
		case strings.EqualFold(event.Text, e.messages.NoToken):
			s.Attachments = []feedback.AttachmentRef{}
			s.Transition(feedback.StateAwaitingVisitDetails)
		}
		return e.promptFor(s.State), nil

	case feedback.StateAwaitingPhotos:
		switch {
		case event.Kind == feedback.EventAttachment:
			if _, err := e.collector.Submit(ctx, s, event.Payload); err != nil {
				return feedback.Prompt{}, err
			}
			return feedback.Prompt{
				Text:    e.messages.photoAccepted(len(s.Attachments)),
				Choices: []string{e.messages.DonePhrase},
			}, nil
		case e.isDone(event):
			e.collector.Complete(s)
			return feedback.Prompt{
				Text:          e.messages.PhotosDone + e.messages.AskVisitDetails,
				RemoveChoices: true,
			}, nil
		}
		return e.promptFor(s.State), nil

	case feedback.StateAwaitingVisitDetails:
		if event.Kind != feedback.EventText {
			return e.promptFor(s.State), nil
		}
		s.Fields[feedback.FieldVisitDetails] = event.Text
		s.Transition(feedback.StateAwaitingContactInfo)
		return e.promptFor(s.State), nil

	case feedback.StateAwaitingContactInfo:
		if event.Kind != feedback.EventText {
			return e.promptFor(s.State), nil
		}
		s.Fields[feedback.FieldContactInfo] = event.Text
		s.Transition(feedback.StateTerminal)
		return e.submit(ctx, *s)
	}

	return feedback.Prompt{}, fmt.Errorf("%w: unexpected state %q", ErrInternal, s.State)
}

func (e *Engine) submit(ctx context.Context, s feedback.Session) (feedback.Prompt, error) {
	envelope := e.composer.Compose(ctx, s)
	if err := e.dispatcher.Dispatch(ctx, s, envelope); err != nil {
		return feedback.Prompt{}, err
	}
	log.Printf("[dialog] user=%s submitted session %s", s.UserID, s.ID)
	return feedback.Prompt{Text: e.messages.Thanks, RemoveChoices: true}, nil
}

func (e *Engine) isDone(event feedback.Event) bool {
	switch event.Kind {
	case feedback.EventCommand:
		return event.Command == feedback.CommandDone
	case feedback.EventText:
		return event.Text == e.messages.DonePhrase
	}
	return false
}

func (e *Engine) promptFor(state feedback.State) feedback.Prompt {
	switch state {
	case feedback.StateAwaitingFeedback:
		return feedback.Prompt{Text: e.messages.AskFeedback, RemoveChoices: true}
	case feedback.StateAwaitingPhotoChoice:
		return feedback.Prompt{
			Text:    e.messages.AskPhotoChoice,
			Choices: []string{e.messages.YesToken, e.messages.NoToken},
		}
	case feedback.StateAwaitingPhotos:
		return feedback.Prompt{Text: e.messages.AskPhotos, Choices: []string{e.messages.DonePhrase}}
	case feedback.StateAwaitingVisitDetails:
		return feedback.Prompt{Text: e.messages.AskVisitDetails, RemoveChoices: true}
	case feedback.StateAwaitingContactInfo:
		return feedback.Prompt{Text: e.messages.AskContactInfo}
	}
	return feedback.Prompt{Text: e.messages.NoSession, RemoveChoices: true}
}

// fail terminates the session that failed, if it is still the user's current
// one. Attachments it already held are kept in storage so an operator can
// recover the submission.
func (e *Engine) fail(ctx context.Context, userID, sessionID string, state feedback.State, event feedback.Event, err error) feedback.Prompt {
	log.Printf("[dialog] user=%s session=%s state=%s event=%s: %v", userID, sessionID, state, event.Kind, err)
	if sessionID != "" {
		removed, derr := e.store.DeleteIfCurrent(ctx, userID, sessionID)
		if derr == nil && len(removed.Attachments) > 0 {
			log.Printf("[dialog] user=%s session %s terminated, retaining %d attachment(s)",
				userID, removed.ID, len(removed.Attachments))
		}
	}
	return feedback.Prompt{Text: e.messages.GenericFailure, RemoveChoices: true}
}
