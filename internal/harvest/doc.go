// Package harvest defines the records exchanged between the harvesting
// stages (discovery, detail extraction, asset retrieval, normalization) and
// the collaborator interfaces those stages depend on.
package harvest
