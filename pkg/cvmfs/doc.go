// Package cvmfs holds the data model of a CVMFS server as seen over HTTP:
// hostnames, repository names, server roles and the documents a server
// publishes (.cvmfspublished manifests, .cvmfs_status.json, meta.json and
// repositories.json) together with their parsers.
package cvmfs
