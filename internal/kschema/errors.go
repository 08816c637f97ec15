package kschema

import "fmt"

// NamespaceNotFoundError is returned by any backend operation addressing a
// namespace that does not exist.
type NamespaceNotFoundError struct {
	Namespace string
}

func (e *NamespaceNotFoundError) Error() string {
	return fmt.Sprintf("namespace %q not found", e.Namespace)
}

// NamespaceAlreadyExistsError is returned by CreateNamespace when the
// requested namespace already exists.
type NamespaceAlreadyExistsError struct {
	Namespace string
}

func (e *NamespaceAlreadyExistsError) Error() string {
	return fmt.Sprintf("namespace %q already exists", e.Namespace)
}

// StoreError wraps any other backend failure (I/O, driver, collection
// errors) that isn't one of the two named conditions above.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError wraps err as a StoreError tagged with the failing operation.
func NewStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}
