// Package model groups the kernel's data types: references and c-list
// translation (ref), serialized capability data (capdata), run-queue items
// (runqueue), syscalls (syscall), vat and cluster configs (vat) and the
// kernel error taxonomy (types).
package model
