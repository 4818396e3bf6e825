package popup

import "iter"

// DefaultMessages are shown when no messages are configured.
var DefaultMessages = []string{
	"The longer you stay on this feed, the harder it becomes to focus on anything else today.",
	"Each extra short you watch is time taken away from goals that actually matter to you.",
	"Staying in this loop trains your brain to expect constant stimulation instead of real rest.",
	"Right now you could choose to pause and give your mind a break instead of one more video.",
	"Short-form scrolling feels relaxing, but it often leaves you more drained and distracted afterward.",
	"Every swipe makes it easier to keep going and harder to pull yourself away from the screen.",
	"If you stopped now, you'd instantly create more time for something meaningful or genuinely relaxing.",
	"Your attention is valuable. This feed is designed to keep it, not to protect your wellbeing.",
	"A quick exit now can protect your energy for things that will still matter tomorrow.",
	"You won't remember most of these clips, but you will feel the time lost if you keep going.",
}

// Cycle hands out messages round-robin. No message repeats until every
// message has been shown once.
type Cycle struct {
	messages []string
	next     int
}

// NewCycle creates a cycle over messages, falling back to DefaultMessages.
func NewCycle(messages []string) *Cycle {
	if len(messages) == 0 {
		messages = DefaultMessages
	}
	return &Cycle{messages: append([]string(nil), messages...)}
}

// Next returns the message under the cursor and advances it, wrapping.
func (c *Cycle) Next() string {
	msg := c.messages[c.next]
	c.next = (c.next + 1) % len(c.messages)
	return msg
}

// Reset moves the cursor back to the first message.
func (c *Cycle) Reset() {
	c.next = 0
}

// Len returns the number of distinct messages.
func (c *Cycle) Len() int {
	return len(c.messages)
}

// All returns an endless sequence drawn from the cycle. Each yielded
// message advances the shared cursor.
func (c *Cycle) All() iter.Seq[string] {
	return func(yield func(string) bool) {
		for {
			if !yield(c.Next()) {
				return
			}
		}
	}
}
