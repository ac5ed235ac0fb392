package descriptor

import "context"

// nonCopiableTransport wraps another transport and rejects Copy. Used for
// installed configurations, which live outside the cache and must never be
// duplicated by the bootstrap.
type nonCopiableTransport struct {
	Transport
}

// NonCopiable marks a transport as not copiable: Copy always fails.
func NonCopiable(t Transport) Transport {
	return &nonCopiableTransport{Transport: t}
}

func (t *nonCopiableTransport) Copy(ctx context.Context, target string) error {
	return NewResolutionError("this descriptor does not support copying", nil).WithDescriptor(t.Spec().URI()).WithOp("copy")
}
