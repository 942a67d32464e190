package jobqueue

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// JobStatus is the lifecycle state of a generation job.
type JobStatus string

const (
	JobStatusPending JobStatus = "pending"
	JobStatusSuccess JobStatus = "success"
	JobStatusError   JobStatus = "error"
)

const (
	// Queue name suffixes; the prefix is the service name.
	requestQueueSuffix = "-generation-queue"
	resultQueueSuffix  = "-generation-results"

	// Job settings
	JobTTL = 24 * time.Hour
)

// Services lists the generation services that own a queue pair.
var Services = []string{"copy", "graphics", "video", "audio"}

var (
	ErrMalformedMessage   = errors.New("malformed queue message")
	ErrJobNotFound        = errors.New("job not found")
	ErrAllProvidersFailed = errors.New("all providers failed")
	ErrNoProviders        = errors.New("no providers configured")
	ErrBrokerClosed       = errors.New("broker closed")
)

// RequestQueue returns the request queue of a service.
func RequestQueue(service string) string {
	return service + requestQueueSuffix
}

// ResultQueue returns the results queue of a service.
func ResultQueue(service string) string {
	return service + resultQueueSuffix
}

// IsService reports whether s has a queue pair.
func IsService(s string) bool {
	for _, svc := range Services {
		if svc == s {
			return true
		}
	}
	return false
}

// Job is a generation request. Payload holds the service specific fields and
// is flattened next to the envelope fields on the wire.
type Job struct {
	RequestID string                 `json:"requestId"`
	UserID    string                 `json:"userId"`
	Service   string                 `json:"service"`
	Timestamp int64                  `json:"timestamp"`
	Payload   map[string]interface{} `json:"-"`
}

var jobEnvelope = map[string]struct{}{
	"requestId": {},
	"userId":    {},
	"service":   {},
	"timestamp": {},
}

// ToMap flattens the job into its wire shape.
func (j *Job) ToMap() map[string]interface{} {
	m := make(map[string]interface{}, len(j.Payload)+4)
	for k, v := range j.Payload {
		if _, reserved := jobEnvelope[k]; reserved {
			continue
		}
		m[k] = v
	}
	m["requestId"] = j.RequestID
	m["userId"] = j.UserID
	m["service"] = j.Service
	m["timestamp"] = j.Timestamp
	return m
}

// JobFromMap rebuilds a job from its wire shape. requestId and userId are
// required.
func JobFromMap(m map[string]interface{}) (*Job, error) {
	j := &Job{Payload: make(map[string]interface{}, len(m))}
	var ok bool
	if j.RequestID, ok = stringField(m, "requestId"); !ok || j.RequestID == "" {
		return nil, fmt.Errorf("%w: missing requestId", ErrMalformedMessage)
	}
	if j.UserID, ok = stringField(m, "userId"); !ok || j.UserID == "" {
		return nil, fmt.Errorf("%w: missing userId", ErrMalformedMessage)
	}
	j.Service, _ = stringField(m, "service")
	j.Timestamp, _ = intField(m, "timestamp")
	for k, v := range m {
		if _, reserved := jobEnvelope[k]; !reserved {
			j.Payload[k] = v
		}
	}
	return j, nil
}

// Result is the single answer a worker emits for a job.
type Result struct {
	RequestID string                 `json:"requestId"`
	Status    JobStatus              `json:"status"`
	Result    map[string]interface{} `json:"result,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Timestamp int64                  `json:"timestamp"`
}

func (r *Result) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		"requestId": r.RequestID,
		"status":    string(r.Status),
		"timestamp": r.Timestamp,
	}
	if r.Result != nil {
		m["result"] = r.Result
	}
	if r.Error != "" {
		m["error"] = r.Error
	}
	return m
}

// ResultFromMap validates and rebuilds a result.
func ResultFromMap(m map[string]interface{}) (*Result, error) {
	r := &Result{}
	var ok bool
	if r.RequestID, ok = stringField(m, "requestId"); !ok || r.RequestID == "" {
		return nil, fmt.Errorf("%w: missing requestId", ErrMalformedMessage)
	}
	status, _ := stringField(m, "status")
	switch JobStatus(status) {
	case JobStatusSuccess, JobStatusError:
		r.Status = JobStatus(status)
	default:
		return nil, fmt.Errorf("%w: invalid status %q", ErrMalformedMessage, status)
	}
	if raw, exists := m["result"]; exists && raw != nil {
		res, isMap := normalizeMap(raw)
		if !isMap {
			return nil, fmt.Errorf("%w: result is not an object", ErrMalformedMessage)
		}
		r.Result = res
	}
	r.Error, _ = stringField(m, "error")
	r.Timestamp, _ = intField(m, "timestamp")
	return r, nil
}

func nowMillis(t time.Time) int64 {
	return t.UnixNano() / int64(time.Millisecond)
}

func stringField(m map[string]interface{}, key string) (string, bool) {
	v, ok := m[key].(string)
	return strings.TrimSpace(v), ok
}

// intField reads integers decoded by either codec.
func intField(m map[string]interface{}, key string) (int64, bool) {
	switch v := m[key].(type) {
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint8:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint64:
		if v > math.MaxInt64 {
			return 0, false
		}
		return int64(v), true
	case float64:
		return int64(v), true
	case float32:
		return int64(v), true
	default:
		return 0, false
	}
}

// normalizeMap accepts the map shapes produced by the JSON and msgpack decoders.
func normalizeMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(m))
		for k, val := range m {
			ks, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[ks] = val
		}
		return out, true
	default:
		return nil, false
	}
}
