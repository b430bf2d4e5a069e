// Package loader supplies assembly images to the guest runtime on demand.
//
// The runtime consults a Hook whenever its own search path has no assembly of the
// requested name. The hook asks a host Source for the image bytes, opens the image in
// memory and loads it under the requested name.
//
// Loading an image loads its references first, which re-enters the hook for each of them.
// A Guard keyed by assembly name lets those nested resolutions through but declines a
// resolution of a name that is already in flight, so an image that (directly or not)
// references itself fails to load instead of recursing.
//
// Resolution can be switched off with the DISABLE_ASSEMBLY_SEARCH_HOOK environment
// variable, which is read on every call.
package loader
