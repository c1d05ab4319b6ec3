package audio

// FrameBuffer accumulates arbitrary-sized PCM pushes and slices them into
// fixed-size analysis frames. Any remainder, including an odd trailing byte,
// is carried over to the next push. Not safe for concurrent use; one
// FrameBuffer belongs to one session.
type FrameBuffer struct {
	frameSize int // samples per frame
	pending   []int16
	oddByte   byte
	hasOdd    bool
}

// NewFrameBuffer creates a buffer producing frames of frameSize samples.
func NewFrameBuffer(frameSize int) *FrameBuffer {
	return &FrameBuffer{frameSize: frameSize}
}

// Push appends raw little-endian 16-bit PCM bytes to the pending buffer.
func (fb *FrameBuffer) Push(data []byte) {
	if len(data) == 0 {
		return
	}
	if fb.hasOdd {
		data = append([]byte{fb.oddByte}, data...)
		fb.hasOdd = false
	}
	if len(data)%2 != 0 {
		fb.oddByte = data[len(data)-1]
		fb.hasOdd = true
		data = data[:len(data)-1]
	}
	fb.pending = append(fb.pending, DecodePCM16(data)...)
}

// NextFrame returns the next complete frame, or false if fewer than
// frameSize samples are pending.
func (fb *FrameBuffer) NextFrame() ([]int16, bool) {
	if len(fb.pending) < fb.frameSize {
		return nil, false
	}
	frame := fb.pending[:fb.frameSize:fb.frameSize]
	fb.pending = fb.pending[fb.frameSize:]
	return frame, true
}

// Pending returns the number of buffered samples not yet emitted as a frame.
func (fb *FrameBuffer) Pending() int {
	return len(fb.pending)
}

// Reset discards all pending samples.
func (fb *FrameBuffer) Reset() {
	fb.pending = nil
	fb.hasOdd = false
}
