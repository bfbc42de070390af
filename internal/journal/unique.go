package journal

// UniqueValues enumerates every distinct value of one field across the whole
// store. Active matches do not apply. Values come back in store order with
// the "FIELD=" prefix removed; raw values that lack the prefix are skipped.
//
// Only the most recent enumeration on a Journal is usable. Starting another
// one makes older enumerators fail.
type UniqueValues struct {
	j     *Journal
	field string
	gen   uint64
}

// QueryUnique starts an enumeration of field.
func (j *Journal) QueryUnique(field string) (*UniqueValues, error) {
	if !ValidField(field) {
		return nil, &Error{Op: "query unique", Kind: KindInvalidArgument, Err: errBadFieldName}
	}
	if err := j.acquire("query unique"); err != nil {
		return nil, err
	}
	defer j.release()
	if err := j.store.QueryUnique(field); err != nil {
		j.uniqueOpen = false
		return nil, wrapError("query unique", err)
	}
	j.uniqueGen++
	j.uniqueOpen = true
	return &UniqueValues{j: j, field: field, gen: j.uniqueGen}, nil
}

func (u *UniqueValues) check(op string) error {
	if err := u.j.acquire(op); err != nil {
		return err
	}
	if !u.j.uniqueOpen {
		u.j.release()
		return &Error{Op: op, Kind: KindInvalidArgument, Err: errNotEnumerating}
	}
	if u.gen != u.j.uniqueGen {
		u.j.release()
		return &Error{Op: op, Kind: KindInvalidArgument, Err: errStaleUnique}
	}
	return nil
}

// Field returns the field being enumerated.
func (u *UniqueValues) Field() string { return u.field }

// Next returns the next value. ok is false once the values are exhausted.
func (u *UniqueValues) Next() (value string, ok bool, err error) {
	if err := u.check("enumerate unique"); err != nil {
		return "", false, err
	}
	defer u.j.release()
	for {
		data, ok, err := u.j.store.EnumerateUnique()
		if err != nil {
			return "", false, wrapError("enumerate unique", err)
		}
		if !ok {
			return "", false, nil
		}
		v := StripPrefix(u.field, data)
		if len(v) == len(data) {
			continue
		}
		return string(v), true, nil
	}
}

// Restart rewinds the enumeration to the first value.
func (u *UniqueValues) Restart() error {
	if err := u.check("restart unique"); err != nil {
		return err
	}
	defer u.j.release()
	u.j.store.RestartUnique()
	return nil
}

// All rewinds and drains the enumeration.
func (u *UniqueValues) All() ([]string, error) {
	if err := u.Restart(); err != nil {
		return nil, err
	}
	var out []string
	for {
		v, ok, err := u.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, v)
	}
}

// UniqueValues returns every distinct value of field in store order.
func (j *Journal) UniqueValues(field string) ([]string, error) {
	u, err := j.QueryUnique(field)
	if err != nil {
		return nil, err
	}
	return u.All()
}
