package services

import "github.com/taliaapp/apiserver/types"

// Authorization predicates. Each is a pure check evaluated before the
// mutating call it guards.

// CanUpload reports whether the account may ingest files.
// Only verified accounts may write to storage.
func CanUpload(user types.User) bool {
	return user.Verified()
}

// CanDeleteFile reports whether the requester owns the file.
func CanDeleteFile(user types.User, file types.File) bool {
	return user.ID == file.UserID
}

// CanRecoverPassword reports whether the account may go through password
// recovery. Unverified accounts have never proven control of their email.
func CanRecoverPassword(user types.User) bool {
	return user.Verified()
}
