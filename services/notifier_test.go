package services

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"squad-ladder/models"
)

func sampleEvent(topic string) Event {
	opp := "bravo"
	m := &models.Match{ID: "m-1", LadderID: "squad-team", ChallengerID: "alpha", OpponentID: &opp, Status: models.MatchStatusInProgress}
	return newMatchEvent(topic, m, "alpha-lead", t0)
}

func TestNewMatchEvent(t *testing.T) {
	e := sampleEvent(TopicMatchAccepted)
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, []string{"alpha", "bravo"}, e.Squads)
	assert.True(t, e.Involves("bravo"))
	assert.False(t, e.Involves("charlie"))
	assert.Equal(t, models.MatchStatusInProgress, e.Status)
	require.NotNil(t, e.Match)
	assert.Equal(t, "m-1", e.Match.ID)
}

func TestNotifierSwallowsPublisherErrors(t *testing.T) {
	rec := &recordingPublisher{}
	n := NewNotifier(zerolog.Nop(), failingPublisher{}, rec)

	n.Notify(context.Background(), sampleEvent(TopicMatchCompleted))
	assert.Equal(t, []string{TopicMatchCompleted}, rec.topics())
}

func TestEventHubFanOut(t *testing.T) {
	hub := NewEventHub(1)
	a, cancelA := hub.Subscribe()
	b, cancelB := hub.Subscribe()
	defer cancelB()
	assert.Equal(t, 2, hub.SubscriberCount())

	require.NoError(t, hub.Publish(context.Background(), TopicMatchCreated, sampleEvent(TopicMatchCreated)))
	// buffer is full; the second event is dropped rather than blocking
	require.NoError(t, hub.Publish(context.Background(), TopicMatchAccepted, sampleEvent(TopicMatchAccepted)))

	for _, ch := range []<-chan Event{a, b} {
		select {
		case e := <-ch:
			assert.Equal(t, TopicMatchCreated, e.Topic)
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}

	cancelA()
	cancelA()
	_, open := <-a
	assert.False(t, open)
	assert.Equal(t, 1, hub.SubscriberCount())

	hub.Close()
	_, open = <-b
	assert.False(t, open)

	late, cancelLate := hub.Subscribe()
	defer cancelLate()
	_, open = <-late
	assert.False(t, open)
}
