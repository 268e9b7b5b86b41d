// Package clc compiles and runs kernels written in a subset of OpenCL C on the host.
//
// It is the compiler used by the software driver (package cl/host): Compile turns source text into a Program,
// reporting diagnostics in the usual "<source>:line:col: error: message" format, and Kernel.Launch executes an
// entry point over an NDRange, with work-groups running concurrently.
//
// Supported language:
//
//   - __kernel entry points, helper functions and program scope __constant variables.
//   - Scalar types bool, char, uchar, short, ushort, int, uint, long, ulong, size_t, half, float and double.
//     half requires the cl_khr_fp16 extension and double requires cl_khr_fp64 on the target device.
//   - Pointers to scalars in the __global, __local, __constant and __private address spaces, private and
//     __local arrays (with brace initializers).
//   - Statements if/else, for, while, do/while, break, continue and return; C expressions except member
//     access; casts.
//   - Work-item functions (get_global_id, get_local_size, ...), barrier, common math functions and 32-bit
//     atomics.
//   - A preprocessor with object-like macros, #ifdef/#ifndef/#if/#else/#endif and #pragma.
//
// Vector types, structs, images and function-like macros are not supported.
package clc
