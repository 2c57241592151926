package provider

import (
	"context"
	"iter"
	"sync"
)

// Reply is one scripted gateway answer.
type Reply struct {
	Fragments []string
	Err       error // yielded after Fragments
}

// Static is a scripted Gateway. Calls consume Replies in order; once
// exhausted, the last reply repeats. It records every request it receives.
type Static struct {
	mu       sync.Mutex
	replies  []Reply
	requests []Request
}

// NewStatic creates a scripted gateway.
func NewStatic(replies ...Reply) *Static {
	return &Static{replies: replies}
}

// Requests returns the requests seen so far.
func (s *Static) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

func (s *Static) next(req Request) Reply {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if len(s.replies) == 0 {
		return Reply{Err: ErrEmptyResponse}
	}
	r := s.replies[0]
	if len(s.replies) > 1 {
		s.replies = s.replies[1:]
	}
	return r
}

// Stream yields the next reply's fragments, then its error if any.
func (s *Static) Stream(ctx context.Context, req Request) iter.Seq2[string, error] {
	reply := s.next(req)
	return func(yield func(string, error) bool) {
		for _, f := range reply.Fragments {
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}
			if !yield(f, nil) {
				return
			}
		}
		if reply.Err != nil {
			yield("", reply.Err)
		}
	}
}

// Complete returns the next reply's fragments joined, or its error.
func (s *Static) Complete(ctx context.Context, req Request) (string, error) {
	reply := s.next(req)
	if reply.Err != nil {
		return "", reply.Err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var out string
	for _, f := range reply.Fragments {
		out += f
	}
	return out, nil
}

var _ Gateway = (*Static)(nil)
