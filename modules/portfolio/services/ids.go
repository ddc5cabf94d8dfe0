package services

import (
	"github.com/iota-uz/portfolio-master/pkg/bitemporal"
	"github.com/iota-uz/portfolio-master/pkg/uid"
)

func objectIDOf(entity, scheme string, id uid.ObjectID) (int64, error) {
	if id.Scheme != scheme {
		return 0, bitemporal.Validation(bitemporal.Code(entity, "INVALID_ID"), "%s id %q: scheme must be %s", entity, id.String(), scheme)
	}
	oid, err := id.Int64()
	if err != nil {
		return 0, bitemporal.ValidationCause(bitemporal.Code(entity, "INVALID_ID"), "invalid "+entity+" id", err)
	}
	return oid, nil
}

// refOf converts a unique id into a ref; a latest id becomes an unpinned ref.
func refOf(entity, scheme string, id uid.UniqueID) (bitemporal.Ref, error) {
	oid, err := objectIDOf(entity, scheme, id.ObjectID())
	if err != nil {
		return bitemporal.Ref{}, err
	}
	version, pinned, err := id.VersionInt64()
	if err != nil {
		return bitemporal.Ref{}, bitemporal.ValidationCause(bitemporal.Code(entity, "INVALID_ID"), "invalid "+entity+" version", err)
	}
	if !pinned {
		return bitemporal.Current(oid), nil
	}
	return bitemporal.Pinned(oid, version), nil
}

func pinnedRefOf(entity, scheme string, id uid.UniqueID) (bitemporal.Ref, error) {
	ref, err := refOf(entity, scheme, id)
	if err != nil {
		return bitemporal.Ref{}, err
	}
	if !ref.IsPinned() {
		return bitemporal.Ref{}, bitemporal.Validation(bitemporal.Code(entity, "VERSION_REQUIRED"),
			"%s %s: the version being edited must be pinned", entity, id.String())
	}
	return ref, nil
}

func objectIDsOf(entity, scheme string, ids []uid.ObjectID) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		oid, err := objectIDOf(entity, scheme, id)
		if err != nil {
			return nil, err
		}
		out = append(out, oid)
	}
	return out, nil
}
