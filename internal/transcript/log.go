package transcript

import "sync"

// Speaker identifies one leg of the conversation.
type Speaker string

const (
	SpeakerCaller Speaker = "caller"
	SpeakerAgent  Speaker = "agent"
)

// Message is one entry in the reconciled transcript log.
type Message struct {
	Speaker Speaker `json:"speaker"`
	Text    string  `json:"text"`
	Final   bool    `json:"isFinal"`
}

// Log is an ordered, append-only transcript. The only mutation Update ever
// performs is replacing the trailing non-final message of the same speaker;
// once a message is final it is never touched again.
type Log []Message

// Update folds one transcript fragment into the log and returns the new log.
// Speech-to-text revisions arrive as growing partials terminated by one final
// fragment; consumers see a single evolving entry per utterance instead of a
// flood of duplicates. Pure: the input log is not modified.
func Update(log Log, speaker Speaker, text string, final bool) Log {
	next := make(Log, len(log), len(log)+1)
	copy(next, log)

	if n := len(next); n > 0 {
		last := next[n-1]
		if last.Speaker == speaker && !last.Final {
			next[n-1] = Message{Speaker: speaker, Text: text, Final: final}
			return next
		}
	}

	return append(next, Message{Speaker: speaker, Text: text, Final: final})
}

// Reconciler wraps a Log for concurrent use: the session controller folds
// fragments in while readers take snapshots for display.
type Reconciler struct {
	mu  sync.RWMutex
	log Log
}

// NewReconciler creates an empty reconciler.
func NewReconciler() *Reconciler {
	return &Reconciler{}
}

// Update folds one fragment into the log.
func (r *Reconciler) Update(speaker Speaker, text string, final bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log = Update(r.log, speaker, text, final)
}

// Messages returns a snapshot copy of the log in arrival order.
func (r *Reconciler) Messages() []Message {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Message, len(r.log))
	copy(out, r.log)
	return out
}

// Len returns the number of log entries.
func (r *Reconciler) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.log)
}

// Reset clears the log for a new call.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log = nil
}
