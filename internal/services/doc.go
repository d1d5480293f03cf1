// Package services holds the shared error taxonomy and context plumbing for
// the vendor clients and workflow stages. Vendor-specific clients live in
// subpackages.
package services
