package audio

// Chunk owns a fixed byte buffer sized framesPerChunk*payloadBytesPerFrame. It
// is allocated once at queue construction, mutated in place by the capture
// producer under exclusive access, and read by the dispatcher. It is never
// freed until queue teardown.
type Chunk struct {
	buf          []byte
	dataSize     int
	samplingRate int
}

// Bytes returns the filled portion of the chunk's buffer.
func (c *Chunk) Bytes() []byte { return c.buf[:c.dataSize] }

// DataSize reports how many bytes of buf are currently filled.
func (c *Chunk) DataSize() int { return c.dataSize }

// SamplingRate reports the capture rate the chunk was filled under.
func (c *Chunk) SamplingRate() int { return c.samplingRate }

// reset clears dataSize so the slot can be refilled by the next enqueue.
func (c *Chunk) reset() { c.dataSize = 0 }

// Fill copies data into the chunk's buffer and records samplingRate,
// truncating to the buffer's capacity if data is larger. It returns the
// number of bytes actually copied. Intended for use inside a ChunkQueue
// Enqueue fill callback from outside the audio package.
func (c *Chunk) Fill(data []byte, samplingRate int) int {
	n := copy(c.buf, data)
	c.dataSize = n
	c.samplingRate = samplingRate
	return n
}
