package redis

// insertIfAbsent writes the file record and its report only when the digest
// key is unset. Returns 1 on insert, 0 when the digest already exists.
//
// KEYS[1] file key, KEYS[2] report key
// ARGV[1] file JSON, ARGV[2] report JSON
const insertIfAbsent = `
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('SET', KEYS[2], ARGV[2])
return 1
`
