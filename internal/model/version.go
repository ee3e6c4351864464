package model

// EngineVersion is the treesync engine version.
const EngineVersion = "0.1.0"
