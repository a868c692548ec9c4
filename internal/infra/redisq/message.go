package redisq

import (
	"encoding/json"
	"errors"
	"fmt"
	"taskqueue/internal/domain"

	"github.com/google/uuid"
)

// bodyField is the stream entry field carrying the JSON message body.
const bodyField = "task"

func encodeMessage(taskID string) (string, error) {
	b, err := json.Marshal(domain.Message{TaskID: taskID})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// decodeMessage extracts the task id from a stream entry. Anything that can
// never be processed comes back as *domain.MalformedMessageError.
func decodeMessage(values map[string]any) (string, error) {
	var body string
	switch v := values[bodyField].(type) {
	case string:
		body = v
	case []byte:
		body = string(v)
	case nil:
		return "", &domain.MalformedMessageError{Err: fmt.Errorf("missing %q field", bodyField)}
	default:
		return "", &domain.MalformedMessageError{Body: fmt.Sprint(v), Err: fmt.Errorf("unexpected body type %T", v)}
	}

	var msg domain.Message
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		return "", &domain.MalformedMessageError{Body: body, Err: err}
	}
	if msg.TaskID == "" {
		return "", &domain.MalformedMessageError{Body: body, Err: errors.New("task_id is missing")}
	}
	if _, err := uuid.Parse(msg.TaskID); err != nil {
		return "", &domain.MalformedMessageError{Body: body, Err: err}
	}
	return msg.TaskID, nil
}
