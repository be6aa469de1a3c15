// Package collector turns a Source into normalized items. Feed and web
// collectors fetch over HTTP; the file collector replays rows parsed at
// import time. Collectors hold no per-source state.
package collector
