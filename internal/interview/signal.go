package interview

import "strings"

// CloseSentinel is the marker the interviewer emits to end the interview.
const CloseSentinel = "[[END_INTERVIEW]]"

// Signal tells the machine whether the interviewer wants to continue.
type Signal int

const (
	SignalContinue Signal = iota
	SignalClose
)

func (s Signal) String() string {
	if s == SignalClose {
		return "close"
	}
	return "continue"
}

// ParseSignal extracts the close signal from a complete reply and returns the
// reply with every sentinel removed.
func ParseSignal(reply string) (Signal, string) {
	if !strings.Contains(reply, CloseSentinel) {
		return SignalContinue, strings.TrimSpace(reply)
	}
	return SignalClose, strings.TrimSpace(strings.ReplaceAll(reply, CloseSentinel, ""))
}

// sentinelFilter strips the sentinel from streamed chunks. It holds back the
// longest tail that could still grow into the sentinel.
type sentinelFilter struct {
	pending string
}

func (f *sentinelFilter) push(chunk string) string {
	buf := strings.ReplaceAll(f.pending+chunk, CloseSentinel, "")

	keep := 0
	for k := min(len(buf), len(CloseSentinel)-1); k > 0; k-- {
		if strings.HasPrefix(CloseSentinel, buf[len(buf)-k:]) {
			keep = k
			break
		}
	}

	f.pending = buf[len(buf)-keep:]
	return buf[:len(buf)-keep]
}

func (f *sentinelFilter) flush() string {
	rest := f.pending
	f.pending = ""
	return rest
}
