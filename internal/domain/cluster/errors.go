package cluster

import "errors"

// NoClusterDataMessage is shown when seeds exist but clustering has not run.
const NoClusterDataMessage = "This comparison requires point clusters to be built. Please contact an administrator to run the clustering job."

// ErrNoClusterData is returned when no seed point belongs to a cluster.
var ErrNoClusterData = errors.New("no cluster data for seed points")
