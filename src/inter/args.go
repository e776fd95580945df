package inter

// 参数构造函数，调用方按设备端过程的签名依次构造

func Uint8(v uint8) Arg   { return Arg{Kind: ArgUint8, Int: int64(v)} }
func Int8(v int8) Arg     { return Arg{Kind: ArgInt8, Int: int64(v)} }
func Uint16(v uint16) Arg { return Arg{Kind: ArgUint16, Int: int64(v)} }
func Int16(v int16) Arg   { return Arg{Kind: ArgInt16, Int: int64(v)} }
func Uint32(v uint32) Arg { return Arg{Kind: ArgUint32, Int: int64(v)} }
func Int32(v int32) Arg   { return Arg{Kind: ArgInt32, Int: int64(v)} }

// String 字符串参数
func String(v string) Arg { return Arg{Kind: ArgString, Bytes: []byte(v)} }

// Bytes 字节数组参数
func Bytes(v []byte) Arg { return Arg{Kind: ArgBytes, Bytes: v} }
