// Package mount describes how a logical file is bound into a task
// sandbox: a shared file object, an optional remote name, a flag set and
// an optional substitute.
//
// Files are shared, not copied. Clone adds a holder and Delete drops one;
// the underlying handle closes with the last holder.
package mount
