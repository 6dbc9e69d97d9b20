package fleetpulse

// Version is the agent SDK version
const Version = "1.0.0"
