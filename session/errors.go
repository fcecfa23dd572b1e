package session

import "github.com/tealrun/teal/errs"

func errDuplicateThread(id int) error {
	return errs.NewICE("duplicate thread id %d", id)
}

func errDuplicateFuture(id int) error {
	return errs.NewICE("duplicate future id %d", id)
}

func errTopLevelCount(n int) error {
	return errs.NewICE("session must have exactly one top-level thread, found %d", n)
}
