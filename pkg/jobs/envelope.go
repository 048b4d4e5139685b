// Package jobs runs named job handlers on top of queue.Queue and decides, per
// failure, whether a message is released for another attempt or aborted.
package jobs

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/nimburion/rabbitqueue/pkg/queue"
)

// Envelope is the JSON body of every job message.
type Envelope struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload"`
}

// NewEnvelope builds the envelope for jobName, marshalling payload unless it is already raw JSON.
func NewEnvelope(jobName string, payload any) (*Envelope, error) {
	jobName = strings.TrimSpace(jobName)
	if jobName == "" {
		return nil, jobsError(ErrValidation, "job name is required")
	}
	raw, ok := payload.(json.RawMessage)
	if !ok {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, errors.Join(jobsError(ErrValidation, "marshal job payload failed"), err)
		}
		raw = data
	}
	if !json.Valid(raw) {
		return nil, jobsError(ErrValidation, "job payload is not valid JSON")
	}
	return &Envelope{Name: jobName, Payload: raw}, nil
}

// DecodeEnvelope parses a message body into an envelope.
func DecodeEnvelope(body []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, errors.Join(jobsError(ErrValidation, "decode job envelope failed"), err)
	}
	env.Name = strings.TrimSpace(env.Name)
	if env.Name == "" {
		return nil, jobsError(ErrValidation, "job name is required")
	}
	if len(env.Payload) == 0 {
		env.Payload = json.RawMessage("null")
	}
	return &env, nil
}

// Job is what a handler receives for one delivery.
type Job struct {
	Name      string
	Queue     string
	MessageID string
	Payload   json.RawMessage
	// NumberOfReleases is how often this job was already released for retry.
	NumberOfReleases int
}

// Decode unmarshals the job payload into v.
func (j *Job) Decode(v any) error {
	if j == nil {
		return jobsError(ErrValidation, "job is nil")
	}
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return errors.Join(jobsError(ErrValidation, "decode job payload failed"), err)
	}
	return nil
}

func newJob(queueName string, env *Envelope, msg *queue.Message) *Job {
	return &Job{
		Name:             env.Name,
		Queue:            queueName,
		MessageID:        msg.ID,
		Payload:          env.Payload,
		NumberOfReleases: msg.NumberOfReleases,
	}
}
