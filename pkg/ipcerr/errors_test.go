package ipcerr

import "testing"

func TestPushOrderOldestFirst(t *testing.T) {
	s := NewStack().Push("attach", BadMagic).Push("camconsumer.Attach", Destroyed)
	frames := s.Frames()
	if len(frames) != 2 {
		t.Fatalf("len(frames) = %d, want 2", len(frames))
	}
	if frames[0].Kind != BadMagic || frames[1].Kind != Destroyed {
		t.Fatalf("frames out of order: %+v", frames)
	}
	top, ok := s.Top()
	if !ok || top.Kind != Destroyed {
		t.Fatalf("Top() = %+v, %v; want Destroyed", top, ok)
	}
}

func TestInlinePrefixOverflows(t *testing.T) {
	s := NewStack()
	for i := 0; i < inlinePrefixLen+3; i++ {
		s = s.Push("fn", OutOfRange)
	}
	if len(s.Frames()) != inlinePrefixLen+3 {
		t.Fatalf("len = %d, want %d", len(s.Frames()), inlinePrefixLen+3)
	}
}

func TestTransferMovesAndClears(t *testing.T) {
	src := NewStack().Push("inner", BadRoi)
	dst := NewStack().Push("outer", AssertionFailed)
	dst = Transfer(dst, src)
	if !src.Empty() {
		t.Fatalf("src should be empty after Transfer")
	}
	frames := dst.Frames()
	if len(frames) != 2 || frames[0].Kind != AssertionFailed || frames[1].Kind != BadRoi {
		t.Fatalf("unexpected frames after transfer: %+v", frames)
	}
}

func TestDiscardClearsWithoutPanicOnNil(t *testing.T) {
	Discard(nil)
	s := NewStack().Push("fn", NotFound)
	Discard(s)
	if !s.Empty() {
		t.Fatalf("expected stack to be empty after Discard")
	}
}

func TestIsChecksOutermostFrame(t *testing.T) {
	s := NewStack().Push("a", BadSize).Push("b", Destroyed)
	if !s.Is(Destroyed) {
		t.Fatalf("Is(Destroyed) = false")
	}
	if s.Is(BadSize) {
		t.Fatalf("Is(BadSize) = true, want false (not the outermost frame)")
	}
}

func TestErrorStringOldestFirst(t *testing.T) {
	s := NewStack().Push("first", BadRoi).PushSystem("second", 13)
	msg := s.Error()
	firstIdx := indexOf(msg, "first")
	secondIdx := indexOf(msg, "second")
	if firstIdx < 0 || secondIdx < 0 || firstIdx > secondIdx {
		t.Fatalf("Error() did not print oldest-first: %q", msg)
	}
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
