package packet

type Reader struct {
	buffer []byte
	offset int
}

func NewReader(buffer []byte) *Reader {
	return &Reader{buffer, 0}
}

func (r *Reader) ReadSlice(n int) []byte {
	v := r.buffer[r.offset : r.offset+n]
	r.offset += n
	return v
}
