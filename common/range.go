package common

// Range is a [Beg, End) byte interval.
type Range struct {
	Beg uint64
	End uint64
}

func (r Range) Size() uint64 {
	return r.End - r.Beg
}

func (r Range) IsEmpty() bool {
	return r.Beg == r.End
}
