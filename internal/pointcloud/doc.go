// Package pointcloud owns the geometric side of an observation: labelled
// scene points, 3D voxel cell hashing and voxel downsampling.
//
// Responsibilities: point and label types, per-sample voxel assignment for
// the reference backbone, and leaf-size downsampling of synthetic scenes.
// Key types: Point, Label, VoxelIndex.
//
// Dependency rule: pointcloud may depend on internal/ragged, but never on
// internal/policy. No model parameters live here.
package pointcloud
